package process_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridwell/gridwell/pkg/process"
)

func TestManager_SuccessfulTask(t *testing.T) {
	t.Parallel()
	m := process.NewManager(nil)

	var doneID string
	m.OnDone(func(p *process.Process) { doneID = p.ID() })

	p := m.Launch("compute column", func(ctx context.Context, p *process.Process) error {
		p.ReportProgress(10, 10)
		return nil
	})
	<-p.Done()
	m.Wait()

	assert.Equal(t, process.StateSucceeded, p.State())
	assert.NoError(t, p.Err())
	assert.Equal(t, 1.0, p.Progress())
	assert.Equal(t, p.ID(), doneID)
}

func TestManager_FailedTask(t *testing.T) {
	t.Parallel()
	m := process.NewManager(nil)

	taskErr := errors.New("column not found")
	var observed error
	m.OnFailed(func(_ *process.Process, err error) { observed = err })

	p := m.Launch("compute column", func(ctx context.Context, p *process.Process) error {
		return taskErr
	})
	<-p.Done()
	m.Wait()

	assert.Equal(t, process.StateFailed, p.State())
	assert.ErrorIs(t, p.Err(), taskErr)
	assert.ErrorIs(t, observed, taskErr)
}

func TestManager_CancelStopsTask(t *testing.T) {
	t.Parallel()
	m := process.NewManager(nil)

	var canceled bool
	m.OnCanceled(func(_ *process.Process) { canceled = true })

	started := make(chan struct{})
	p := m.Launch("long fetch", func(ctx context.Context, p *process.Process) error {
		close(started)
		<-ctx.Done()
		return process.ErrCanceled
	})

	<-started
	assert.True(t, p.State() == process.StateRunning)
	p.Cancel()
	<-p.Done()
	m.Wait()

	assert.Equal(t, process.StateCanceled, p.State())
	assert.True(t, p.CancelRequested())
	assert.True(t, canceled)
	// cancellation is not a failure
	assert.NoError(t, p.Err())
}

func TestManager_ContextCanceledClassifiedAsCanceled(t *testing.T) {
	t.Parallel()
	m := process.NewManager(nil)

	p := m.Launch("long fetch", func(ctx context.Context, p *process.Process) error {
		<-ctx.Done()
		return ctx.Err()
	})
	p.Cancel()
	<-p.Done()
	m.Wait()

	assert.Equal(t, process.StateCanceled, p.State())
}

func TestManager_CancelIsIdempotent(t *testing.T) {
	t.Parallel()
	m := process.NewManager(nil)

	p := m.Launch("noop", func(ctx context.Context, p *process.Process) error {
		return nil
	})
	<-p.Done()
	m.Wait()

	// cancel after terminal state is a no-op
	p.Cancel()
	p.Cancel()
	assert.Equal(t, process.StateSucceeded, p.State())
}

func TestManager_ActiveTracksRunningProcesses(t *testing.T) {
	t.Parallel()
	m := process.NewManager(nil)

	release := make(chan struct{})
	started := make(chan struct{})
	p := m.Launch("blocked", func(ctx context.Context, p *process.Process) error {
		close(started)
		<-release
		return nil
	})
	<-started

	require.Len(t, m.Active(), 1)
	assert.Equal(t, p, m.Get(p.ID()))

	close(release)
	<-p.Done()
	m.Wait()

	assert.Empty(t, m.Active())
	assert.Nil(t, m.Get(p.ID()))
}

func TestProcess_ProgressFraction(t *testing.T) {
	t.Parallel()
	m := process.NewManager(nil)

	checkpoint := make(chan struct{})
	proceed := make(chan struct{})
	p := m.Launch("progress", func(ctx context.Context, p *process.Process) error {
		p.ReportProgress(25, 100)
		close(checkpoint)
		<-proceed
		return nil
	})

	<-checkpoint
	assert.InDelta(t, 0.25, p.Progress(), 1e-9)
	close(proceed)
	<-p.Done()
	m.Wait()
}

func TestManager_WaitReturnsAfterAllTerminal(t *testing.T) {
	t.Parallel()
	m := process.NewManager(nil)

	for i := 0; i < 5; i++ {
		m.Launch("quick", func(ctx context.Context, p *process.Process) error {
			time.Sleep(5 * time.Millisecond)
			return nil
		})
	}
	m.Wait()
	assert.Empty(t, m.Active())
}
