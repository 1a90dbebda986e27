// Package jobxtest holds behaviour tests every jobx.Store and jobx.Queue
// implementation must pass.
package jobxtest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/Abraxas-365/repohub/pkg/jobx"
	"github.com/Abraxas-365/repohub/pkg/kernel"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewRecord returns a CREATED record with a fresh id.
func NewRecord(owner string) *jobx.JobRecord {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &jobx.JobRecord{
		JobID:         uuid.NewString(),
		OwnerID:       kernel.OwnerID(owner),
		RequestType:   "test.Request",
		State:         jobx.StateCreated,
		Request:       json.RawMessage(`{"concreteType":"test.Request","n":1}`),
		StartedOn:     now,
		LastChangedOn: now,
	}
}

// RunStoreSuite exercises a Store created fresh by newStore for each subtest.
func RunStoreSuite(t *testing.T, newStore func(t *testing.T) jobx.Store) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		rec := NewRecord("acme/u1")
		require.NoError(t, s.Create(ctx, rec))

		got, err := s.Get(ctx, rec.JobID)
		require.NoError(t, err)
		assert.Equal(t, rec.JobID, got.JobID)
		assert.Equal(t, rec.OwnerID, got.OwnerID)
		assert.Equal(t, rec.RequestType, got.RequestType)
		assert.Equal(t, jobx.StateCreated, got.State)
		assert.JSONEq(t, string(rec.Request), string(got.Request))
		assert.Nil(t, got.Response)
		assert.Nil(t, got.Error)
		assert.Nil(t, got.Progress)
		assert.WithinDuration(t, rec.StartedOn, got.StartedOn, time.Millisecond)
	})

	t.Run("duplicate create fails", func(t *testing.T) {
		s := newStore(t)
		rec := NewRecord("acme/u1")
		require.NoError(t, s.Create(ctx, rec))
		assert.Error(t, s.Create(ctx, rec))
	})

	t.Run("missing job", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, uuid.NewString())
		assert.True(t, jobx.ErrJobNotFound.Is(err))

		_, _, err = s.Transition(ctx, uuid.NewString(), jobx.Transition{From: []jobx.State{jobx.StateCreated}, To: jobx.StateProcessing})
		assert.True(t, jobx.ErrJobNotFound.Is(err))

		_, err = s.UpdateProgress(ctx, uuid.NewString(), jobx.Progress{Current: 1})
		assert.True(t, jobx.ErrJobNotFound.Is(err))
	})

	t.Run("transition is a compare and set", func(t *testing.T) {
		s := newStore(t)
		rec := NewRecord("acme/u1")
		require.NoError(t, s.Create(ctx, rec))

		got, applied, err := s.Transition(ctx, rec.JobID, jobx.Transition{From: []jobx.State{jobx.StateProcessing}, To: jobx.StateCancelling})
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Equal(t, jobx.StateCreated, got.State)

		got, applied, err = s.Transition(ctx, rec.JobID, jobx.Transition{From: []jobx.State{jobx.StateCreated}, To: jobx.StateProcessing})
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, jobx.StateProcessing, got.State)
		assert.False(t, got.LastChangedOn.Before(rec.LastChangedOn))
	})

	t.Run("complete stores the response", func(t *testing.T) {
		s := newStore(t)
		rec := NewRecord("acme/u1")
		require.NoError(t, s.Create(ctx, rec))
		claim(t, s, rec.JobID)

		body := json.RawMessage(`{"concreteType":"test.Result","rows":120}`)
		got, applied, err := s.Transition(ctx, rec.JobID, jobx.Transition{From: []jobx.State{jobx.StateProcessing}, To: jobx.StateComplete, Response: body})
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, jobx.StateComplete, got.State)

		got, err = s.Get(ctx, rec.JobID)
		require.NoError(t, err)
		assert.JSONEq(t, string(body), string(got.Response))
		assert.Nil(t, got.Error)
	})

	t.Run("fail stores the error", func(t *testing.T) {
		s := newStore(t)
		rec := NewRecord("acme/u1")
		require.NoError(t, s.Create(ctx, rec))
		claim(t, s, rec.JobID)

		info := &jobx.ErrorInfo{Message: "disk full", Classification: jobx.ClassResourceExhausted}
		_, applied, err := s.Transition(ctx, rec.JobID, jobx.Transition{From: []jobx.State{jobx.StateProcessing}, To: jobx.StateFailed, Error: info})
		require.NoError(t, err)
		assert.True(t, applied)

		got, err := s.Get(ctx, rec.JobID)
		require.NoError(t, err)
		assert.Equal(t, jobx.StateFailed, got.State)
		assert.Equal(t, info, got.Error)
		assert.Nil(t, got.Response)
	})

	t.Run("terminal states are final", func(t *testing.T) {
		s := newStore(t)
		rec := NewRecord("acme/u1")
		require.NoError(t, s.Create(ctx, rec))
		claim(t, s, rec.JobID)

		_, applied, err := s.Transition(ctx, rec.JobID, jobx.Transition{From: []jobx.State{jobx.StateProcessing}, To: jobx.StateCancelled})
		require.NoError(t, err)
		require.True(t, applied)

		for _, next := range []jobx.State{jobx.StateCreated, jobx.StateProcessing, jobx.StateCancelling, jobx.StateCancelled} {
			got, applied, err := s.Transition(ctx, rec.JobID, jobx.Transition{From: jobx.States, To: next})
			if err != nil {
				assert.True(t, jobx.ErrInvalidTransition.Is(err))
				continue
			}
			assert.False(t, applied, "moved out of CANCELLED to %s", next)
			assert.Equal(t, jobx.StateCancelled, got.State)
		}
	})

	t.Run("invalid transition is rejected", func(t *testing.T) {
		s := newStore(t)
		rec := NewRecord("acme/u1")
		require.NoError(t, s.Create(ctx, rec))

		_, _, err := s.Transition(ctx, rec.JobID, jobx.Transition{From: []jobx.State{jobx.StateProcessing}, To: jobx.StateComplete})
		assert.True(t, jobx.ErrInvalidTransition.Is(err), "complete without a response")

		_, _, err = s.Transition(ctx, rec.JobID, jobx.Transition{From: []jobx.State{jobx.StateProcessing}, To: jobx.StateCreated})
		assert.True(t, jobx.ErrInvalidTransition.Is(err), "backwards")
	})

	t.Run("progress only while processing", func(t *testing.T) {
		s := newStore(t)
		rec := NewRecord("acme/u1")
		require.NoError(t, s.Create(ctx, rec))

		got, err := s.UpdateProgress(ctx, rec.JobID, jobx.Progress{Current: 1})
		require.NoError(t, err)
		assert.Nil(t, got.Progress)

		claim(t, s, rec.JobID)
		got, err = s.UpdateProgress(ctx, rec.JobID, jobx.Progress{Current: 10, Total: 100, Message: "rows"})
		require.NoError(t, err)
		assert.Equal(t, &jobx.Progress{Current: 10, Total: 100, Message: "rows"}, got.Progress)

		_, _, err = s.Transition(ctx, rec.JobID, jobx.Transition{From: []jobx.State{jobx.StateProcessing}, To: jobx.StateCancelling})
		require.NoError(t, err)
		got, err = s.UpdateProgress(ctx, rec.JobID, jobx.Progress{Current: 20})
		require.NoError(t, err)
		assert.Equal(t, jobx.StateCancelling, got.State)
		assert.Equal(t, int64(10), got.Progress.Current)
	})

	t.Run("concurrent terminal writers", func(t *testing.T) {
		s := newStore(t)
		rec := NewRecord("acme/u1")
		require.NoError(t, s.Create(ctx, rec))
		claim(t, s, rec.JobID)

		transitions := []jobx.Transition{
			{From: []jobx.State{jobx.StateProcessing}, To: jobx.StateComplete, Response: json.RawMessage(`{"concreteType":"test.Result"}`)},
			{From: []jobx.State{jobx.StateProcessing}, To: jobx.StateFailed, Error: &jobx.ErrorInfo{Message: "x", Classification: jobx.ClassInternal}},
			{From: []jobx.State{jobx.StateProcessing, jobx.StateCancelling}, To: jobx.StateCancelled},
			{From: []jobx.State{jobx.StateProcessing}, To: jobx.StateCancelling},
		}

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners []jobx.State
		)
		for i := 0; i < 5; i++ {
			for _, tr := range transitions {
				wg.Add(1)
				go func(tr jobx.Transition) {
					defer wg.Done()
					_, applied, err := s.Transition(ctx, rec.JobID, tr)
					assert.NoError(t, err)
					if applied && tr.To.IsTerminal() {
						mu.Lock()
						winners = append(winners, tr.To)
						mu.Unlock()
					}
				}(tr)
			}
		}
		wg.Wait()

		require.Len(t, winners, 1)
		got, err := s.Get(ctx, rec.JobID)
		require.NoError(t, err)
		assert.Equal(t, winners[0], got.State)
	})
}

// RunQueueSuite exercises a Queue created fresh by newQueue for each subtest.
func RunQueueSuite(t *testing.T, newQueue func(t *testing.T) jobx.Queue) {
	ctx := context.Background()

	t.Run("pop times out empty", func(t *testing.T) {
		q := newQueue(t)
		id, err := q.Pop(ctx, 50*time.Millisecond)
		require.NoError(t, err)
		assert.Empty(t, id)
	})

	t.Run("fifo delivery", func(t *testing.T) {
		q := newQueue(t)
		ids := []string{uuid.NewString(), uuid.NewString(), uuid.NewString()}
		for _, id := range ids {
			require.NoError(t, q.Push(ctx, id))
		}
		for _, want := range ids {
			got, err := q.Pop(ctx, time.Second)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}
	})
}

func claim(t *testing.T, s jobx.Store, jobID string) {
	t.Helper()
	_, applied, err := s.Transition(context.Background(), jobID, jobx.Transition{From: []jobx.State{jobx.StateCreated}, To: jobx.StateProcessing})
	require.NoError(t, err)
	require.True(t, applied)
}
