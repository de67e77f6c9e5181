package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/charlie/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func intPtr(n int) *int       { return &n }
func strPtr(s string) *string { return &s }

func TestStartAndFinish(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id, err := s.Start(ctx, StartRequest{Task: "build", Command: "make", Workdir: "/src", Pid: 42, ConfigHash: "blake3:ab"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	r, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, r.Status)
	assert.Equal(t, "build", r.Task)
	assert.Equal(t, 42, r.Pid)
	assert.Nil(t, r.ExitCode)
	assert.Nil(t, r.FinishedAt)
	assert.Zero(t, r.Duration())

	require.NoError(t, s.Finish(ctx, id, FinishRequest{Status: StatusFailed, ExitCode: intPtr(2), LastError: strPtr("exit status 2")}))

	r, err = s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, r.Status)
	require.NotNil(t, r.ExitCode)
	assert.Equal(t, 2, *r.ExitCode)
	require.NotNil(t, r.FinishedAt)
	assert.Equal(t, "exit status 2", *r.LastError)
}

func TestStartUsesGivenID(t *testing.T) {
	s := openTestStore(t)
	id, err := s.Start(context.Background(), StartRequest{ID: "proc-1", Command: "true", Workdir: "."})
	require.NoError(t, err)
	assert.Equal(t, "proc-1", id)
}

func TestStartRequiresCommand(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Start(context.Background(), StartRequest{Workdir: "."})
	assert.Error(t, err)
}

func TestFinishErrors(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	id, err := s.Start(ctx, StartRequest{Command: "true", Workdir: "."})
	require.NoError(t, err)

	assert.Error(t, s.Finish(ctx, id, FinishRequest{Status: StatusRunning}))
	assert.ErrorIs(t, s.Finish(ctx, "missing", FinishRequest{Status: StatusSucceeded}), ErrRunNotFound)

	require.NoError(t, s.Finish(ctx, id, FinishRequest{Status: StatusSucceeded, ExitCode: intPtr(0)}))
	assert.ErrorIs(t, s.Finish(ctx, id, FinishRequest{Status: StatusCanceled}), ErrRunNotFound, "terminal runs stay terminal")
}

func TestGetMissing(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRecentNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	var ids []string
	for i, task := range []string{"a", "b", "a"} {
		id, err := s.Start(ctx, StartRequest{Task: task, Command: "echo", Workdir: "."})
		require.NoError(t, err, "run %d", i)
		ids = append(ids, id)
	}

	runs, err := s.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[0], runs[2].ID)

	runs, err = s.Recent(ctx, "a", 10)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	runs, err = s.Recent(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestPruneKeepsRunningRuns(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	done, err := s.Start(ctx, StartRequest{Command: "true", Workdir: "."})
	require.NoError(t, err)
	require.NoError(t, s.Finish(ctx, done, FinishRequest{Status: StatusSucceeded}))
	_, err = s.Start(ctx, StartRequest{Command: "sleep 9", Workdir: "."})
	require.NoError(t, err)

	n, err := s.Prune(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	runs, err := s.Recent(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusRunning, runs[0].Status)
}

func TestRecoverAbandoned(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id, err := s.Start(ctx, StartRequest{Command: "sleep 9", Workdir: "."})
	require.NoError(t, err)

	n, err := s.RecoverAbandoned(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	r, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, r.Status)
	require.NotNil(t, r.LastError)
	assert.Contains(t, *r.LastError, "abandoned")
}
