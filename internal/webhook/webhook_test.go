package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/mediabatch/internal/config"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/events"
	"github.com/therealutkarshpriyadarshi/mediabatch/pkg/models"
)

func testEvent() events.Event {
	return events.ForJob(events.JobFinished, &models.Job{
		ID:     "job-1",
		Status: models.JobStatusCompleted,
	})
}

func TestWebhookNotify(t *testing.T) {
	var (
		received  []byte
		signature string
		eventType string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received, _ = io.ReadAll(r.Body)
		signature = r.Header.Get("X-Webhook-Signature")
		eventType = r.Header.Get("X-Webhook-Event")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	service := NewService(config.WebhookConfig{URLs: []string{server.URL}, Secret: "test-secret"}, nil)

	err := service.Notify(context.Background(), testEvent())
	require.NoError(t, err)

	assert.Equal(t, events.JobFinished, eventType)
	assert.True(t, VerifySignature(received, "test-secret", signature))

	var evt events.Event
	require.NoError(t, json.Unmarshal(received, &evt))
	assert.Equal(t, "job-1", evt.JobID)
	assert.Equal(t, models.JobStatusCompleted, evt.Status)
}

func TestWebhookRetriesThenSucceeds(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	service := NewService(config.WebhookConfig{URLs: []string{server.URL}}, nil)
	service.retryDelays = []time.Duration{time.Millisecond, time.Millisecond}

	require.NoError(t, service.Notify(context.Background(), testEvent()))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestWebhookGivesUp(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	service := NewService(config.WebhookConfig{URLs: []string{server.URL}}, nil)
	service.retryDelays = []time.Duration{time.Millisecond}

	err := service.Notify(context.Background(), testEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 500")
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestWebhookSignature(t *testing.T) {
	payload := []byte(`{"type":"test"}`)

	signature := generateSignature(payload, "test-secret")
	assert.Contains(t, signature, "sha256=")
	assert.True(t, VerifySignature(payload, "test-secret", signature))
	assert.False(t, VerifySignature(payload, "other-secret", signature))
}

func TestWebhookName(t *testing.T) {
	var n events.Notifier = NewService(config.WebhookConfig{}, nil)
	assert.Equal(t, "webhook", n.Name())
}
