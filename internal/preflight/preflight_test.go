package preflight

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecker_Run_PassesInWritableDir(t *testing.T) {
	// Given: a writable existing directory
	dir := t.TempDir()

	// When: running all checks
	results := New().Run(dir)

	// Then: no critical failures
	require.Len(t, results, 3)
	assert.False(t, HasCriticalFailures(results))
	for _, r := range results {
		assert.NotEmpty(t, r.Message, "check %s should explain itself", r.Name)
	}
}

func TestChecker_Run_DataDirNotYetCreated(t *testing.T) {
	// Given: a data directory that does not exist yet
	dir := filepath.Join(t.TempDir(), ".trirank")

	// When: running all checks
	results := New().Run(dir)

	// Then: path checks fall back to the parent and pass
	assert.False(t, HasCriticalFailures(results))
}

func TestChecker_CheckWritePermission_ReadOnlyDir(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root ignores directory permissions")
	}

	// Given: a read-only directory
	dir := t.TempDir()
	require.NoError(t, os.Chmod(dir, 0o555))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	// When: checking write permission
	result := New().CheckWritePermission(dir)

	// Then: the check fails critically
	assert.Equal(t, StatusFail, result.Status)
	assert.True(t, result.Critical())
	assert.Contains(t, result.Message, "cannot write")
}

func TestChecker_CheckWritePermission_LeavesNoProbeBehind(t *testing.T) {
	// Given: a writable directory
	dir := t.TempDir()

	// When: checking write permission
	result := New().CheckWritePermission(dir)
	require.Equal(t, StatusPass, result.Status)

	// Then: the probe file is gone
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestChecker_CheckDiskSpace_ReportsFreeSpace(t *testing.T) {
	// When: checking disk space in a temp directory
	result := New().CheckDiskSpace(t.TempDir())

	// Then: the result names the free space and the floor
	assert.Equal(t, "disk_space", result.Name)
	assert.Contains(t, result.Message, "free (minimum: 100.0 MB)")
}

func TestChecker_CheckFileDescriptors_NeverCritical(t *testing.T) {
	// When: checking the descriptor limit
	result := New().CheckFileDescriptors()

	// Then: the check can warn but never fails a build
	assert.False(t, result.Required)
	assert.False(t, result.Critical())
}

func TestMarker_RoundTrip(t *testing.T) {
	// Given: a data directory without a marker
	dir := t.TempDir()
	assert.True(t, NeedsCheck(dir))

	// When: recording a pass
	require.NoError(t, MarkPassed(dir))

	// Then: checks are skipped until the marker is cleared
	assert.False(t, NeedsCheck(dir))
	require.NoError(t, ClearMarker(dir))
	assert.True(t, NeedsCheck(dir))
}

func TestMarker_ClearMissingIsNoError(t *testing.T) {
	// When: clearing a marker that never existed
	err := ClearMarker(t.TempDir())

	// Then: no error
	assert.NoError(t, err)
}

func TestMarker_MarkPassedCreatesDataDir(t *testing.T) {
	// Given: a data directory that does not exist yet
	dir := filepath.Join(t.TempDir(), ".trirank")

	// When: recording a pass
	require.NoError(t, MarkPassed(dir))

	// Then: the marker exists inside the created directory
	assert.False(t, NeedsCheck(dir))
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "PASS", StatusPass.String())
	assert.Equal(t, "WARN", StatusWarn.String())
	assert.Equal(t, "FAIL", StatusFail.String())
	assert.Equal(t, "UNKNOWN", Status(99).String())
}

func TestHasCriticalFailures_IgnoresWarnings(t *testing.T) {
	results := []Result{
		{Name: "a", Status: StatusPass, Required: true},
		{Name: "b", Status: StatusWarn, Required: false},
		{Name: "c", Status: StatusFail, Required: false},
	}
	assert.False(t, HasCriticalFailures(results))

	results = append(results, Result{Name: "d", Status: StatusFail, Required: true})
	assert.True(t, HasCriticalFailures(results))
}
