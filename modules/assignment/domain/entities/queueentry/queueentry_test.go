package queueentry_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workmesh/assign-sdk/modules/assignment/domain/entities/queueentry"
)

func newNotifiedEntry(t *testing.T) queueentry.QueueEntry {
	t.Helper()
	now := time.Now()
	return queueentry.NewNotified(
		uuid.New(), uuid.New(), 0.75,
		map[string]float64{"rating": 0.5, "recency": 0.25},
		now, now.Add(3*time.Hour),
	)
}

func TestNewNotified(t *testing.T) {
	t.Parallel()
	entry := newNotifiedEntry(t)

	assert.Equal(t, queueentry.TargetTypeWorkItem, entry.TargetType())
	assert.Equal(t, queueentry.StatusNotified, entry.Status())
	require.NotNil(t, entry.NotifiedAt())
	assert.Nil(t, entry.ResolvedAt())
	assert.True(t, entry.Status().Open())
	assert.False(t, entry.Status().Terminal())
}

func TestQueueEntry_Resolve(t *testing.T) {
	t.Parallel()

	outcomes := []queueentry.Status{
		queueentry.StatusAccepted,
		queueentry.StatusCompleted,
		queueentry.StatusDeclined,
	}
	for _, outcome := range outcomes {
		t.Run(string(outcome), func(t *testing.T) {
			t.Parallel()
			entry := newNotifiedEntry(t)
			at := time.Now()

			resolved, err := entry.Resolve(outcome, at)
			require.NoError(t, err)
			assert.Equal(t, outcome, resolved.Status())
			require.NotNil(t, resolved.ResolvedAt())
			assert.Equal(t, at, *resolved.ResolvedAt())
			assert.True(t, resolved.Status().Terminal())
		})
	}
}

func TestQueueEntry_ResolveRejectsNonOutcomeStatus(t *testing.T) {
	t.Parallel()
	entry := newNotifiedEntry(t)

	_, err := entry.Resolve(queueentry.StatusExpired, time.Now())
	require.ErrorIs(t, err, queueentry.ErrInvalidOutcome)
}

func TestQueueEntry_TerminalEntriesAreImmutable(t *testing.T) {
	t.Parallel()
	entry := newNotifiedEntry(t)

	resolved, err := entry.Resolve(queueentry.StatusAccepted, time.Now())
	require.NoError(t, err)

	_, err = resolved.Resolve(queueentry.StatusDeclined, time.Now())
	require.ErrorIs(t, err, queueentry.ErrInvalidTransition)

	_, err = resolved.Expire(time.Now())
	require.ErrorIs(t, err, queueentry.ErrInvalidTransition)
}

func TestQueueEntry_Expire(t *testing.T) {
	t.Parallel()
	entry := newNotifiedEntry(t)
	at := time.Now()

	expired, err := entry.Expire(at)
	require.NoError(t, err)
	assert.Equal(t, queueentry.StatusExpired, expired.Status())
	require.NotNil(t, expired.ResolvedAt())
	assert.Equal(t, at, *expired.ResolvedAt())
}

func TestResolutionOutcome(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"accepted", "completed", "declined"} {
		status, err := queueentry.ResolutionOutcome(raw)
		require.NoError(t, err)
		assert.Equal(t, queueentry.Status(raw), status)
	}

	_, err := queueentry.ResolutionOutcome("notified")
	require.ErrorIs(t, err, queueentry.ErrInvalidOutcome)
	_, err = queueentry.ResolutionOutcome("bogus")
	require.ErrorIs(t, err, queueentry.ErrInvalidOutcome)
}

func TestStatus_OpenTerminal(t *testing.T) {
	t.Parallel()

	open := []queueentry.Status{queueentry.StatusPending, queueentry.StatusNotified}
	terminal := []queueentry.Status{
		queueentry.StatusAccepted,
		queueentry.StatusCompleted,
		queueentry.StatusDeclined,
		queueentry.StatusExpired,
	}
	for _, s := range open {
		assert.True(t, s.Open(), s)
		assert.False(t, s.Terminal(), s)
	}
	for _, s := range terminal {
		assert.False(t, s.Open(), s)
		assert.True(t, s.Terminal(), s)
	}
}
