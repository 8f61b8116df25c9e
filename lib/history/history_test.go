package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/gotmc/scopeseq/lib/executor"
	"github.com/gotmc/scopeseq/lib/sequence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func report(id string, started time.Time, state executor.State) executor.Report {
	return executor.Report{
		ID:       id,
		Sequence: "/data/script_1",
		State:    state,
		Started:  started,
		Finished: started.Add(3 * time.Second),
		Steps: []executor.StepReport{
			{Index: 1, Kind: sequence.Start, Outcome: executor.Applied},
			{Index: 2, Kind: sequence.AxisControl, Outcome: executor.Failure, Message: "bus fault"},
		},
	}
}

func TestRecordAndGet(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	rep := report("run-1", start, executor.Failed)
	rep.Err = errors.New("step 2 (Axis Control): bus fault")
	require.NoError(t, s.Record(ctx, rep))

	got, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, executor.Failed, got.State)
	assert.Equal(t, 1, got.Failed)
	assert.Equal(t, "/data/script_1", got.Sequence)
	assert.True(t, start.Equal(got.Started))
	assert.Equal(t, rep.Err.Error(), got.Error)
	assert.Equal(t, []sequence.Kind{sequence.Start, sequence.AxisControl}, got.Kinds())
	assert.Equal(t, "bus fault", got.Steps[1].Message)

	_, err = s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListNewestFirst(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Record(ctx, report(id, base.Add(time.Duration(i)*time.Hour), executor.Succeeded)))
	}

	runs, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
	assert.Empty(t, runs[0].Steps)
}

func TestRecordAssignsIDAndReplaces(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, report("", time.Now(), executor.Succeeded)))
	runs, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.NotEmpty(t, runs[0].ID)

	rep := report("same", time.Now(), executor.Succeeded)
	require.NoError(t, s.Record(ctx, rep))
	rep.Steps = rep.Steps[:1]
	require.NoError(t, s.Record(ctx, rep))
	got, err := s.Get(ctx, "same")
	require.NoError(t, err)
	assert.Len(t, got.Steps, 1)
}
