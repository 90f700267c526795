package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandlerServesHealthAndMetrics(t *testing.T) {
	RecordProcessRun("ffmpeg", "ok")
	h := Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "mediabatch_process_runs_total"))
}

func TestNewServer(t *testing.T) {
	s := NewServer(0, nil)
	assert.NotNil(t, s)
	assert.Equal(t, ":0", s.server.Addr)
}
