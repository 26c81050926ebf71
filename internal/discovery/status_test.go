package discovery

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	allowed := map[[2]QueueStatus]bool{
		{StatusPending, StatusProcessing}:   true,
		{StatusProcessing, StatusCompleted}: true,
		{StatusProcessing, StatusFailed}:    true,
		{StatusProcessing, StatusSkipped}:   true,
		{StatusProcessing, StatusPending}:   true,
		{StatusFailed, StatusPending}:       true,
	}

	for _, from := range AllStatuses {
		for _, to := range AllStatuses {
			from, to := from, to
			t.Run(fmt.Sprintf("%s->%s", from, to), func(t *testing.T) {
				t.Parallel()
				require.Equal(t, allowed[[2]QueueStatus{from, to}], CanTransition(from, to))
			})
		}
	}
}

func TestValidateTransitionWrapsSentinel(t *testing.T) {
	t.Parallel()

	err := ValidateTransition(StatusCompleted, StatusPending)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInvalidTransition))
	require.NoError(t, ValidateTransition(StatusPending, StatusProcessing))
}

func TestParseQueueStatus(t *testing.T) {
	t.Parallel()

	got, err := ParseQueueStatus("skipped")
	require.NoError(t, err)
	require.Equal(t, StatusSkipped, got)

	_, err = ParseQueueStatus("running")
	require.Error(t, err)
}

func TestTerminal(t *testing.T) {
	t.Parallel()

	require.False(t, StatusPending.Terminal())
	require.False(t, StatusProcessing.Terminal())
	require.True(t, StatusCompleted.Terminal())
	require.True(t, StatusFailed.Terminal())
	require.True(t, StatusSkipped.Terminal())
}

func TestStatusForError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want QueueStatus
	}{
		{"policy refusal", NewCollectionError(KindPolicy, "http://a.com", errors.New("robots")), StatusSkipped},
		{"transient", NewCollectionError(KindTransient, "http://a.com", errors.New("timeout")), StatusFailed},
		{"wrapped policy", fmt.Errorf("collect: %w", NewCollectionError(KindPolicy, "u", errors.New("x"))), StatusSkipped},
		{"plain error", errors.New("boom"), StatusFailed},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, StatusForError(tt.err))
		})
	}
}

func TestCollectionErrorUnwraps(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	err := NewCollectionError(KindTransient, "http://example.com", cause)
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "http://example.com")
	require.Contains(t, err.Error(), "transient")
}
