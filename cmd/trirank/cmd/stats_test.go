package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trirank/trirank/internal/store"
)

func TestStatsCmd_HasQueriesSubcommand(t *testing.T) {
	// Given: root command
	cmd := NewRootCmd()

	// When: finding stats command
	statsCmd, _, err := cmd.Find([]string{"stats"})
	require.NoError(t, err)

	// Then: stats command should have queries subcommand
	names := make(map[string]bool)
	for _, sc := range statsCmd.Commands() {
		names[sc.Name()] = true
	}
	assert.True(t, names["queries"], "should have queries subcommand")
}

func TestStatsQueriesCmd_HasFlags(t *testing.T) {
	// Given: root command
	cmd := NewRootCmd()

	// When: finding stats queries command
	queriesCmd, _, err := cmd.Find([]string{"stats", "queries"})
	require.NoError(t, err)

	// Then: should have expected flags
	jsonFlag := queriesCmd.Flags().Lookup("json")
	require.NotNil(t, jsonFlag, "should have --json flag")
	assert.Equal(t, "false", jsonFlag.DefValue)

	daysFlag := queriesCmd.Flags().Lookup("days")
	require.NotNil(t, daysFlag, "should have --days flag")
	assert.Equal(t, "7", daysFlag.DefValue)
}

func TestStatsCmd_NoIndex_Fails(t *testing.T) {
	// Given: a directory without an index
	tmpDir := t.TempDir()

	oldDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(tmpDir))
	defer func() { _ = os.Chdir(oldDir) }()

	// When: running stats
	cmd := NewRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"stats"})

	err := cmd.Execute()

	// Then: error about missing index
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no index found")
}

func TestStatsCmd_AfterIndex_ShowsCounts(t *testing.T) {
	// Given: an indexed corpus
	tmpDir := t.TempDir()
	t.Setenv("HOME", t.TempDir())
	buildSolarIndex(t, tmpDir)

	oldDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(tmpDir))
	defer func() { _ = os.Chdir(oldDir) }()

	// When: running stats
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"stats"})

	err := cmd.Execute()

	// Then: counts for every store are reported
	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "Index Information")
	assert.Contains(t, output, "Chunks:")
	assert.Contains(t, output, "Knowledge Graph:")
	assert.Contains(t, output, "Relationships:")
}

func TestStatsCmd_JSONOutput(t *testing.T) {
	// Given: an indexed corpus
	tmpDir := t.TempDir()
	t.Setenv("HOME", t.TempDir())
	buildSolarIndex(t, tmpDir)

	oldDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(tmpDir))
	defer func() { _ = os.Chdir(oldDir) }()

	// When: running stats --json
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"stats", "--json"})

	err := cmd.Execute()

	// Then: valid JSON with chunk counts
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &payload), "output should be valid JSON")
	stats, ok := payload["statistics"].(map[string]any)
	require.True(t, ok, "payload should carry a statistics object")
	assert.Equal(t, float64(2), stats["chunks"], "both fixture chunks should be counted")
	assert.Equal(t, float64(1), stats["documents"])
}

func TestStatsQueries_EmptyTelemetry(t *testing.T) {
	// Given: an index with no recorded queries
	tmpDir := t.TempDir()
	dataDir := filepath.Join(tmpDir, ".trirank")
	require.NoError(t, os.MkdirAll(dataDir, 0755))

	meta, err := store.NewSQLiteStore(filepath.Join(dataDir, "metadata.db"))
	require.NoError(t, err)
	require.NoError(t, meta.Close())

	oldDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(tmpDir))
	defer func() { _ = os.Chdir(oldDir) }()

	// When: running stats queries
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"stats", "queries"})

	err = cmd.Execute()

	// Then: empty sections rather than an error
	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "Query Statistics")
	assert.Contains(t, output, "none recorded yet")
}
