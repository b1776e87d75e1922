package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trirank/trirank/internal/store"
)

// writeCorpusRecords writes a JSONL corpus file into dir.
func writeCorpusRecords(t *testing.T, dir, name string, lines ...string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644))
}

// solarCorpus fills dir with a small but complete corpus: documents,
// chunks, entities, relationships, and mentions.
func solarCorpus(t *testing.T, dir string) {
	t.Helper()
	writeCorpusRecords(t, dir, "solar.jsonl",
		`{"type":"document","id":"doc-1","path":"solar.md","title":"Solar Power","language":"en"}`,
		`{"type":"chunk","id":"c-1","document_id":"doc-1","text":"Solar panels convert sunlight into direct current electricity.","language":"en","position":0}`,
		`{"type":"chunk","id":"c-2","document_id":"doc-1","text":"The inverter converts direct current from the panels into alternating current.","language":"en","position":1}`,
		`{"type":"entity","id":"e-1","name":"Solar Panel","entity_type":"PRODUCT","language":"en"}`,
		`{"type":"entity","id":"e-2","name":"Inverter","entity_type":"PRODUCT","language":"en"}`,
		`{"type":"relationship","source_id":"e-1","target_id":"e-2","rel_type":"FEEDS","confidence":0.9}`,
		`{"type":"mention","chunk_id":"c-1","entity_id":"e-1","confidence":0.95}`,
		`{"type":"mention","chunk_id":"c-2","entity_id":"e-2","confidence":0.9}`,
	)
}

func TestIndexCmd_BuildsIndex(t *testing.T) {
	// Given: a corpus directory with records
	tmpDir := t.TempDir()
	t.Setenv("HOME", t.TempDir())
	solarCorpus(t, tmpDir)

	// When: running index
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"index", "--corpus", tmpDir, "--no-tui"})

	err := cmd.Execute()

	// Then: the build succeeds and the index files exist
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(tmpDir, ".trirank", "metadata.db"))
	assert.FileExists(t, filepath.Join(tmpDir, ".trirank", "graph.db"))
	assert.Contains(t, buf.String(), "Complete:", "plain renderer should report completion")
}

func TestIndexCmd_MissingCorpusDir(t *testing.T) {
	// Given: a corpus path that does not exist
	cmd := NewRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"index", "--corpus", "/nonexistent/trirank-corpus", "--no-tui"})

	// When: running index
	err := cmd.Execute()

	// Then: it fails with a path error
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corpus path")
}

func TestIndexCmd_RejectsConcurrentBuild(t *testing.T) {
	// Given: a corpus whose rebuild lock is already held
	tmpDir := t.TempDir()
	t.Setenv("HOME", t.TempDir())
	solarCorpus(t, tmpDir)

	dataDir := filepath.Join(tmpDir, ".trirank")
	require.NoError(t, os.MkdirAll(dataDir, 0755))

	lock := store.NewRebuildLock(dataDir)
	acquired, err := lock.TryLock()
	require.NoError(t, err)
	require.True(t, acquired)
	defer func() { _ = lock.Unlock() }()

	// When: running index while the lock is held
	cmd := NewRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"index", "--corpus", tmpDir, "--no-tui"})

	err = cmd.Execute()

	// Then: it refuses instead of corrupting the in-progress build
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another rebuild is running")
}

func TestIndexCmd_ForceRebuildsFromScratch(t *testing.T) {
	// Given: an already-built index
	tmpDir := t.TempDir()
	t.Setenv("HOME", t.TempDir())
	solarCorpus(t, tmpDir)

	first := NewRootCmd()
	first.SetOut(new(bytes.Buffer))
	first.SetErr(new(bytes.Buffer))
	first.SetArgs([]string{"index", "--corpus", tmpDir, "--no-tui"})
	require.NoError(t, first.Execute())

	// When: rebuilding with --force
	second := NewRootCmd()
	buf := new(bytes.Buffer)
	second.SetOut(buf)
	second.SetErr(buf)
	second.SetArgs([]string{"index", "--corpus", tmpDir, "--no-tui", "--force"})

	err := second.Execute()

	// Then: the rebuild succeeds and the index is intact
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(tmpDir, ".trirank", "metadata.db"))
	assert.Contains(t, buf.String(), "Complete:")
}

func TestIndexCmd_HasFlags(t *testing.T) {
	// Given: the index command
	cmd := NewRootCmd()
	indexCmd, _, err := cmd.Find([]string{"index"})
	require.NoError(t, err)

	// Then: the expected flags exist with their defaults
	corpusFlag := indexCmd.Flags().Lookup("corpus")
	require.NotNil(t, corpusFlag, "should have --corpus flag")
	assert.Equal(t, ".", corpusFlag.DefValue)

	forceFlag := indexCmd.Flags().Lookup("force")
	require.NotNil(t, forceFlag, "should have --force flag")
	assert.Equal(t, "false", forceFlag.DefValue)

	noTUIFlag := indexCmd.Flags().Lookup("no-tui")
	require.NotNil(t, noTUIFlag, "should have --no-tui flag")
	assert.Equal(t, "false", noTUIFlag.DefValue)
}
