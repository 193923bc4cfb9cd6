package task

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"vidcompose/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockComposer is a mock implementation of the Composer interface.
type mockComposer struct {
	composeFunc func(ctx context.Context, job *Job) (string, error)
}

func (m *mockComposer) Compose(ctx context.Context, job *Job) (string, error) {
	if m.composeFunc != nil {
		return m.composeFunc(ctx, job)
	}
	return "/out/" + job.TaskID + ".mp4", nil // Default success behavior
}

func testConfig() *config.Config {
	return &config.Config{
		WorkerCount:         2,
		QueueSize:           10,
		FFTimeout:           10 * time.Second,
		OutputLocalLifetime: 1 * time.Hour,
	}
}

// stageFiles creates n readable dummy input files.
func stageFiles(t *testing.T, n int) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, n)
	for i := range paths {
		paths[i] = filepath.Join(dir, fmt.Sprintf("input%d.mp4", i))
		require.NoError(t, os.WriteFile(paths[i], []byte("fake video data"), 0o644))
	}
	return paths
}

// waitForTerminal polls until the task reaches a terminal state.
func waitForTerminal(t *testing.T, mgr *Manager, id string) *Task {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := mgr.Get(id)
		require.NoError(t, err)
		if got.State.Terminal() {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s never reached a terminal state", id)
	return nil
}

func TestManager_Submit(t *testing.T) {
	mgr := NewManager(testConfig(), NewStore(), &mockComposer{})

	// No workers started: the state observable right after submit must be
	// pending, never terminal.
	tk, err := mgr.Submit(ModeConcat, stageFiles(t, 2), Options{})
	require.NoError(t, err)
	assert.NotEmpty(t, tk.ID)
	assert.Equal(t, StatePending, tk.State)

	got, err := mgr.Get(tk.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePending, got.State)
}

func TestManager_Validation(t *testing.T) {
	mgr := NewManager(testConfig(), NewStore(), &mockComposer{})
	store := mgr.store

	t.Run("nonexistent input path", func(t *testing.T) {
		_, err := mgr.Submit(ModeSingle, []string{"/no/such/file.mp4"}, Options{})
		assert.ErrorIs(t, err, ErrValidation)
		// No orphan record may be observable.
		assert.Equal(t, 0, store.Len())
	})

	t.Run("unknown mode", func(t *testing.T) {
		_, err := mgr.Submit(Mode("explode"), stageFiles(t, 1), Options{})
		assert.ErrorIs(t, err, ErrValidation)
		assert.Equal(t, 0, store.Len())
	})

	t.Run("wrong input count", func(t *testing.T) {
		_, err := mgr.Submit(ModeConcat, stageFiles(t, 1), Options{})
		assert.ErrorIs(t, err, ErrValidation)
		assert.Equal(t, 0, store.Len())
	})

	t.Run("pip_score without score", func(t *testing.T) {
		_, err := mgr.Submit(ModePiPScore, stageFiles(t, 2), Options{})
		assert.ErrorIs(t, err, ErrValidation)
		assert.Equal(t, 0, store.Len())
	})
}

func TestManager_QueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 1
	mgr := NewManager(cfg, NewStore(), &mockComposer{})
	// Workers never started, so the single slot stays occupied.

	_, err := mgr.Submit(ModeSingle, stageFiles(t, 1), Options{})
	require.NoError(t, err)

	_, err = mgr.Submit(ModeSingle, stageFiles(t, 1), Options{})
	assert.ErrorIs(t, err, ErrQueueFull)
	// The rejected submission must not leave a record behind.
	assert.Equal(t, 1, mgr.store.Len())
}

func TestManager_ProcessTask(t *testing.T) {
	t.Run("successful processing", func(t *testing.T) {
		mgr := NewManager(testConfig(), NewStore(), &mockComposer{
			composeFunc: func(ctx context.Context, job *Job) (string, error) {
				time.Sleep(10 * time.Millisecond) // Simulate work
				return "/out/" + job.TaskID + ".mp4", nil
			},
		})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		mgr.Start(ctx)

		inputs := stageFiles(t, 1)
		tk, err := mgr.Submit(ModeSingle, inputs, Options{})
		require.NoError(t, err)

		done := waitForTerminal(t, mgr, tk.ID)
		assert.Equal(t, StateCompleted, done.State)
		assert.Equal(t, "/out/"+tk.ID+".mp4", done.OutputPath)
		assert.Empty(t, done.Error)

		// Staged inputs are removed once the task is terminal.
		assert.Eventually(t, func() bool {
			_, err := os.Stat(inputs[0])
			return os.IsNotExist(err)
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("failed processing", func(t *testing.T) {
		mgr := NewManager(testConfig(), NewStore(), &mockComposer{
			composeFunc: func(ctx context.Context, job *Job) (string, error) {
				return "", errors.New("ffmpeg blew up")
			},
		})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		mgr.Start(ctx)

		tk, err := mgr.Submit(ModeSingle, stageFiles(t, 1), Options{})
		require.NoError(t, err)

		done := waitForTerminal(t, mgr, tk.ID)
		assert.Equal(t, StateFailed, done.State)
		assert.Equal(t, "ffmpeg blew up", done.Error)
		assert.Empty(t, done.OutputPath)
	})

	t.Run("long failure messages are truncated", func(t *testing.T) {
		huge := strings.Repeat("x", 10*maxErrorLen)
		mgr := NewManager(testConfig(), NewStore(), &mockComposer{
			composeFunc: func(ctx context.Context, job *Job) (string, error) {
				return "", errors.New(huge)
			},
		})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		mgr.Start(ctx)

		tk, err := mgr.Submit(ModeSingle, stageFiles(t, 1), Options{})
		require.NoError(t, err)

		done := waitForTerminal(t, mgr, tk.ID)
		assert.Equal(t, StateFailed, done.State)
		assert.NotEmpty(t, done.Error)
		assert.LessOrEqual(t, len(done.Error), maxErrorLen+32)
		assert.Contains(t, done.Error, "truncated")
	})
}

func TestManager_TerminalReadsAreIdempotent(t *testing.T) {
	mgr := NewManager(testConfig(), NewStore(), &mockComposer{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx)

	tk, err := mgr.Submit(ModeSingle, stageFiles(t, 1), Options{})
	require.NoError(t, err)
	first := waitForTerminal(t, mgr, tk.ID)

	for i := 0; i < 5; i++ {
		got, err := mgr.Get(tk.ID)
		require.NoError(t, err)
		assert.Equal(t, first.State, got.State)
		assert.Equal(t, first.OutputPath, got.OutputPath)
		assert.Equal(t, first.Error, got.Error)
	}
}

func TestManager_ConcurrentSubmissionsDoNotInterfere(t *testing.T) {
	mgr := NewManager(testConfig(), NewStore(), &mockComposer{
		composeFunc: func(ctx context.Context, job *Job) (string, error) {
			return "/out/" + job.TaskID + ".mp4", nil
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx)

	const n = 8
	ids := make([]string, n)
	inputs := make([][]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		inputs[i] = stageFiles(t, 2)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tk, err := mgr.Submit(ModeConcat, inputs[i], Options{})
			assert.NoError(t, err)
			ids[i] = tk.ID
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, id := range ids {
		require.NotEmpty(t, id)
		assert.False(t, seen[id], "duplicate task id %s", id)
		seen[id] = true

		done := waitForTerminal(t, mgr, id)
		// Each record carries only its own output; no cross-contamination.
		assert.Equal(t, "/out/"+id+".mp4", done.OutputPath)
	}
}
