package async

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trirank/trirank/internal/corpus"
	"github.com/trirank/trirank/internal/ui"
)

func modifyBatch(paths ...string) []corpus.ChangeEvent {
	batch := make([]corpus.ChangeEvent, 0, len(paths))
	for _, path := range paths {
		batch = append(batch, corpus.ChangeEvent{
			Path:      path,
			Op:        corpus.OpModify,
			Timestamp: time.Now(),
		})
	}
	return batch
}

// startRebuilder runs the rebuilder on a goroutine and returns the
// batch channel plus a done channel carrying Run's result.
func startRebuilder(t *testing.T, r *Rebuilder) (chan []corpus.ChangeEvent, chan error) {
	t.Helper()

	batches := make(chan []corpus.ChangeEvent, 8)
	done := make(chan error, 1)
	go func() {
		done <- r.Run(context.Background(), batches)
	}()
	t.Cleanup(func() {
		r.Stop()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("rebuilder did not stop")
		}
	})
	return batches, done
}

func TestNewRebuilder(t *testing.T) {
	// Given: a config with a build function
	cfg := RebuilderConfig{
		DataDir: t.TempDir(),
		Build: func(ctx context.Context) (*corpus.BuildResult, error) {
			return &corpus.BuildResult{}, nil
		},
	}

	// When: creating the rebuilder
	r, err := NewRebuilder(cfg)

	// Then: should be initialized with an idle progress tracker
	require.NoError(t, err)
	require.NotNil(t, r)
	require.NotNil(t, r.Progress())
	assert.Equal(t, string(StatusIdle), r.Progress().Snapshot().Status)
	assert.NoError(t, r.LastError())
}

func TestNewRebuilder_RequiresBuildFunc(t *testing.T) {
	// Given/When: a config without a build function
	_, err := NewRebuilder(RebuilderConfig{DataDir: t.TempDir()})

	// Then: creation fails
	require.Error(t, err)
	assert.Contains(t, err.Error(), "build function is required")
}

func TestRebuilder_Trigger_RunsBuild(t *testing.T) {
	// Given: a running rebuilder with a counting build
	var builds atomic.Int32
	r, err := NewRebuilder(RebuilderConfig{
		DataDir: t.TempDir(),
		Build: func(ctx context.Context) (*corpus.BuildResult, error) {
			builds.Add(1)
			return &corpus.BuildResult{}, nil
		},
	})
	require.NoError(t, err)
	startRebuilder(t, r)

	// When: triggering a rebuild directly
	r.Trigger()

	// Then: exactly one build runs
	assert.Eventually(t, func() bool {
		return builds.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRebuilder_Batch_TriggersBuild(t *testing.T) {
	// Given: a running rebuilder
	var builds atomic.Int32
	r, err := NewRebuilder(RebuilderConfig{
		DataDir: t.TempDir(),
		Build: func(ctx context.Context) (*corpus.BuildResult, error) {
			builds.Add(1)
			return &corpus.BuildResult{}, nil
		},
	})
	require.NoError(t, err)
	batches, _ := startRebuilder(t, r)

	// When: a corpus change batch arrives
	batches <- modifyBatch("notes/batch1.jsonl")

	// Then: a rebuild runs
	assert.Eventually(t, func() bool {
		return builds.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRebuilder_ConfigOnlyBatch_SkipsBuild(t *testing.T) {
	// Given: a running rebuilder with a config-change callback
	var builds atomic.Int32
	configCh := make(chan string, 1)
	r, err := NewRebuilder(RebuilderConfig{
		DataDir: t.TempDir(),
		Build: func(ctx context.Context) (*corpus.BuildResult, error) {
			builds.Add(1)
			return &corpus.BuildResult{}, nil
		},
		OnConfigChange: func(path string) {
			configCh <- path
		},
	})
	require.NoError(t, err)
	batches, _ := startRebuilder(t, r)

	// When: a batch containing only a config change arrives
	batches <- []corpus.ChangeEvent{{
		Path:      ".trirank.yaml",
		Op:        corpus.OpConfigChange,
		Timestamp: time.Now(),
	}}

	// Then: the callback fires but no rebuild runs
	select {
	case path := <-configCh:
		assert.Equal(t, ".trirank.yaml", path)
	case <-time.After(2 * time.Second):
		t.Fatal("config change callback never fired")
	}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), builds.Load())
}

func TestRebuilder_MixedBatch_BuildsOnce(t *testing.T) {
	// Given: a running rebuilder with a config-change callback
	var builds atomic.Int32
	configCh := make(chan string, 1)
	r, err := NewRebuilder(RebuilderConfig{
		DataDir: t.TempDir(),
		Build: func(ctx context.Context) (*corpus.BuildResult, error) {
			builds.Add(1)
			return &corpus.BuildResult{}, nil
		},
		OnConfigChange: func(path string) {
			configCh <- path
		},
	})
	require.NoError(t, err)
	batches, _ := startRebuilder(t, r)

	// When: one batch mixes a config change with corpus changes
	batches <- []corpus.ChangeEvent{
		{Path: ".trirank.yaml", Op: corpus.OpConfigChange, Timestamp: time.Now()},
		{Path: "notes/batch1.jsonl", Op: corpus.OpModify, Timestamp: time.Now()},
	}

	// Then: both the callback and one rebuild happen
	select {
	case path := <-configCh:
		assert.Equal(t, ".trirank.yaml", path)
	case <-time.After(2 * time.Second):
		t.Fatal("config change callback never fired")
	}
	assert.Eventually(t, func() bool {
		return builds.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRebuilder_CoalescesBatchesDuringBuild(t *testing.T) {
	// Given: a build that blocks until released
	var builds atomic.Int32
	firstStarted := make(chan struct{})
	release := make(chan struct{})
	r, err := NewRebuilder(RebuilderConfig{
		DataDir: t.TempDir(),
		Build: func(ctx context.Context) (*corpus.BuildResult, error) {
			if builds.Add(1) == 1 {
				close(firstStarted)
				<-release
			}
			return &corpus.BuildResult{}, nil
		},
	})
	require.NoError(t, err)
	batches, _ := startRebuilder(t, r)

	// When: more batches pile up while the first build runs
	batches <- modifyBatch("a.jsonl")
	<-firstStarted
	batches <- modifyBatch("b.jsonl")
	batches <- modifyBatch("c.jsonl")
	batches <- modifyBatch("d.jsonl")
	close(release)

	// Then: the queued batches coalesce into a single follow-up build
	assert.Eventually(t, func() bool {
		return builds.Load() == 2
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), builds.Load())
}

func TestRebuilder_FailedBuild_LeavesMarker(t *testing.T) {
	// Given: a rebuilder whose build always fails
	dataDir := t.TempDir()
	r, err := NewRebuilder(RebuilderConfig{
		DataDir: dataDir,
		Build: func(ctx context.Context) (*corpus.BuildResult, error) {
			return nil, errors.New("embedding failed: connection refused")
		},
	})
	require.NoError(t, err)
	batches, _ := startRebuilder(t, r)

	// When: a rebuild runs and fails
	batches <- modifyBatch("notes/batch1.jsonl")
	assert.Eventually(t, func() bool {
		return r.Progress().Snapshot().Status == string(StatusError) && r.LastError() != nil
	}, 2*time.Second, 10*time.Millisecond)

	// Then: the in-progress marker survives so the next start rebuilds
	assert.True(t, HasInterruptedBuild(dataDir))
	require.Error(t, r.LastError())
	assert.Contains(t, r.LastError().Error(), "embedding failed")
	assert.Contains(t, r.Progress().Snapshot().ErrorMessage, "connection refused")
}

func TestRebuilder_SuccessfulBuild_RemovesMarker(t *testing.T) {
	// Given: a rebuilder whose build succeeds with a known result
	dataDir := t.TempDir()
	resultCh := make(chan *corpus.BuildResult, 1)
	var markerDuringBuild atomic.Bool
	r, err := NewRebuilder(RebuilderConfig{
		DataDir: dataDir,
		Build: func(ctx context.Context) (*corpus.BuildResult, error) {
			markerDuringBuild.Store(HasInterruptedBuild(dataDir))
			return &corpus.BuildResult{Documents: 2, Chunks: 5, Entities: 3}, nil
		},
		OnComplete: func(result *corpus.BuildResult) {
			resultCh <- result
		},
	})
	require.NoError(t, err)
	startRebuilder(t, r)

	// When: a rebuild runs to completion
	r.Trigger()

	// Then: the completion callback sees the result and the marker is gone
	select {
	case result := <-resultCh:
		assert.Equal(t, 2, result.Documents)
		assert.Equal(t, 5, result.Chunks)
		assert.Equal(t, 3, result.Entities)
	case <-time.After(2 * time.Second):
		t.Fatal("completion callback never fired")
	}
	assert.True(t, markerDuringBuild.Load())
	assert.False(t, HasInterruptedBuild(dataDir))
	assert.NoError(t, r.LastError())
}

func TestRebuilder_RecoversAfterFailedBuild(t *testing.T) {
	// Given: a build that fails once, then succeeds. The real builder
	// drives the renderer, so the fake reports completion the same way.
	dataDir := t.TempDir()
	var builds atomic.Int32
	var progress *RebuildProgress
	r, err := NewRebuilder(RebuilderConfig{
		DataDir: dataDir,
		Build: func(ctx context.Context) (*corpus.BuildResult, error) {
			if builds.Add(1) == 1 {
				return nil, errors.New("transient store error")
			}
			progress.Complete(ui.CompletionStats{Documents: 1, Chunks: 2})
			return &corpus.BuildResult{Documents: 1, Chunks: 2}, nil
		},
	})
	require.NoError(t, err)
	progress = r.Progress()
	batches, _ := startRebuilder(t, r)

	// When: two separate batches arrive
	batches <- modifyBatch("notes/batch1.jsonl")
	assert.Eventually(t, func() bool {
		return r.Progress().Snapshot().Status == string(StatusError)
	}, 2*time.Second, 10*time.Millisecond)
	batches <- modifyBatch("notes/batch1.jsonl")

	// Then: the second build clears the error and the marker
	assert.Eventually(t, func() bool {
		return r.Progress().Snapshot().Status == string(StatusReady) &&
			!HasInterruptedBuild(dataDir) && r.LastError() == nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, r.Progress().Snapshot().Builds)
}

func TestRebuilder_Run_SecondCallErrors(t *testing.T) {
	// Given: a rebuilder that is already running
	r, err := NewRebuilder(RebuilderConfig{
		DataDir: t.TempDir(),
		Build: func(ctx context.Context) (*corpus.BuildResult, error) {
			return &corpus.BuildResult{}, nil
		},
	})
	require.NoError(t, err)
	batches, _ := startRebuilder(t, r)

	// When: Run is called a second time
	err = r.Run(context.Background(), batches)

	// Then: the second call is rejected
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestRebuilder_Run_ReturnsOnClosedChannel(t *testing.T) {
	// Given: a running rebuilder
	r, err := NewRebuilder(RebuilderConfig{
		DataDir: t.TempDir(),
		Build: func(ctx context.Context) (*corpus.BuildResult, error) {
			return &corpus.BuildResult{}, nil
		},
	})
	require.NoError(t, err)

	batches := make(chan []corpus.ChangeEvent)
	done := make(chan error, 1)
	go func() {
		done <- r.Run(context.Background(), batches)
	}()

	// When: the watcher channel closes
	close(batches)

	// Then: Run returns cleanly
	select {
	case runErr := <-done:
		assert.NoError(t, runErr)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after channel close")
	}
}

func TestRebuilder_Run_ReturnsOnContextCancel(t *testing.T) {
	// Given: a running rebuilder
	r, err := NewRebuilder(RebuilderConfig{
		DataDir: t.TempDir(),
		Build: func(ctx context.Context) (*corpus.BuildResult, error) {
			return &corpus.BuildResult{}, nil
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	batches := make(chan []corpus.ChangeEvent)
	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx, batches)
	}()

	// When: the context is cancelled
	cancel()

	// Then: Run returns the context error
	select {
	case runErr := <-done:
		assert.ErrorIs(t, runErr, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRebuilder_Stop_Idempotent(t *testing.T) {
	// Given: a running rebuilder
	r, err := NewRebuilder(RebuilderConfig{
		DataDir: t.TempDir(),
		Build: func(ctx context.Context) (*corpus.BuildResult, error) {
			return &corpus.BuildResult{}, nil
		},
	})
	require.NoError(t, err)

	batches := make(chan []corpus.ChangeEvent)
	done := make(chan error, 1)
	go func() {
		done <- r.Run(context.Background(), batches)
	}()

	// When: stopping twice
	r.Stop()
	r.Stop()

	// Then: Run has returned and the second Stop was a no-op
	select {
	case runErr := <-done:
		assert.NoError(t, runErr)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestRebuilder_Stop_BeforeRun(t *testing.T) {
	// Given: a rebuilder that never ran
	r, err := NewRebuilder(RebuilderConfig{
		DataDir: t.TempDir(),
		Build: func(ctx context.Context) (*corpus.BuildResult, error) {
			return &corpus.BuildResult{}, nil
		},
	})
	require.NoError(t, err)

	// When/Then: Stop does not block or panic
	r.Stop()
}

func TestHasInterruptedBuild(t *testing.T) {
	tests := []struct {
		name  string
		setup func(dir string)
		want  bool
	}{
		{
			name:  "no marker",
			setup: func(dir string) {},
			want:  false,
		},
		{
			name: "marker exists",
			setup: func(dir string) {
				_ = os.WriteFile(filepath.Join(dir, "rebuild.active"), []byte("2026-01-02T15:04:05Z"), 0o644)
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			tt.setup(dir)
			assert.Equal(t, tt.want, HasInterruptedBuild(dir))
		})
	}
}
