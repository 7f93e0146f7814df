package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	events []Event
	err    error
}

func (r *recordingNotifier) Notify(ctx context.Context, event Event) error {
	r.events = append(r.events, event)
	return r.err
}

func TestWebhookNotifierDelivers(t *testing.T) {
	var received Event
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL)
	defer notifier.Close()

	err := notifier.Notify(context.Background(), Event{
		Severity:    SeverityInfo,
		Kind:        KindDeploySucceeded,
		Environment: "staging",
		Version:     "1.4.0",
		Message:     "deployment complete",
	})
	require.NoError(t, err)
	assert.Equal(t, KindDeploySucceeded, received.Kind)
	assert.Equal(t, "staging", received.Environment)
	assert.Equal(t, "1.4.0", received.Version)
	assert.False(t, received.Timestamp.IsZero())
}

func TestWebhookNotifierRejectedEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL)
	defer notifier.Close()

	err := notifier.Notify(context.Background(), Event{Kind: KindDeployFailed})
	assert.Error(t, err)
}

func TestWebhookNotifierKeepsCallerTimestamp(t *testing.T) {
	var received Event
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL)
	defer notifier.Close()

	stamp := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, notifier.Notify(context.Background(), Event{Kind: KindBackupCreated, Timestamp: stamp}))
	assert.True(t, received.Timestamp.Equal(stamp))
}

func TestMultiNotifiesAll(t *testing.T) {
	first := &recordingNotifier{}
	second := &recordingNotifier{}
	multi := Multi{first, second}

	err := multi.Notify(context.Background(), Event{Kind: KindRollbackStarted})
	require.NoError(t, err)
	assert.Len(t, first.events, 1)
	assert.Len(t, second.events, 1)
}

func TestMultiContinuesPastFailures(t *testing.T) {
	boom := errors.New("endpoint down")
	first := &recordingNotifier{err: boom}
	second := &recordingNotifier{}
	multi := Multi{first, second}

	err := multi.Notify(context.Background(), Event{Kind: KindDeployFailed})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, second.events, 1, "later notifiers still run")
}

func TestLogNotifierNeverFails(t *testing.T) {
	notifier := NewLogNotifier()
	err := notifier.Notify(context.Background(), Event{
		Severity:    SeverityCritical,
		Kind:        KindRollbackFailed,
		Environment: "production",
		AttemptID:   "00000000000000000001",
		Details:     map[string]string{"service": "api"},
		Message:     "rollback failed",
	})
	assert.NoError(t, err)
}
