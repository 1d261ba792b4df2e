package tracing

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestProfiler_RuntimeEndpoint(t *testing.T) {
	p := NewProfiler("0", zap.NewNop())

	w := httptest.NewRecorder()
	p.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/debug/runtime", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var stats RuntimeStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Positive(t, stats.Goroutines)
	assert.Positive(t, stats.NumCPU)
}

func TestProfiler_PprofIndex(t *testing.T) {
	w := httptest.NewRecorder()
	NewProfiler("0", zap.NewNop()).Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "goroutine")
}
