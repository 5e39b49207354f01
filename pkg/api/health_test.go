package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/cuemby/karapace-operator/pkg/metrics"
	"github.com/cuemby/karapace-operator/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	status  types.Status
	leader  bool
	version string
}

func (f *fakeSource) Status() types.Status { return f.status }
func (f *fakeSource) Unit() string         { return "karapace-0" }
func (f *fakeSource) IsLeader() bool       { return f.leader }
func (f *fakeSource) Version() string      { return f.version }

func TestHealthHandler(t *testing.T) {
	hs := NewHealthServer(nil)

	for method, want := range map[string]int{
		http.MethodGet:    http.StatusOK,
		http.MethodPost:   http.StatusMethodNotAllowed,
		http.MethodDelete: http.StatusMethodNotAllowed,
	} {
		t.Run(method, func(t *testing.T) {
			w := httptest.NewRecorder()
			hs.healthHandler(w, httptest.NewRequest(method, "/health", nil))
			require.Equal(t, want, w.Code)
			if want != http.StatusOK {
				return
			}

			var response HealthResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, "healthy", response.Status)
			assert.NotZero(t, response.Timestamp)
		})
	}
}

func TestHealthHandlerReportsWorkloadVersion(t *testing.T) {
	hs := NewHealthServer(&fakeSource{version: "3.4.6"})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	hs.healthHandler(w, req)

	var response HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "3.4.6", response.Version)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}

// TestReadyHandlerNoSource tests readiness before the reconciler exists
func TestReadyHandlerNoSource(t *testing.T) {
	hs := NewHealthServer(nil)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()

	hs.readyHandler(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var response ReadyResponse
	err := json.NewDecoder(w.Body).Decode(&response)
	assert.NoError(t, err)

	assert.Equal(t, "not ready", response.Status)
	assert.Equal(t, "not initialized", response.Checks["replica"])
	assert.NotEmpty(t, response.Message)
}

func TestReadyHandler(t *testing.T) {
	metrics.SetCriticalComponents("workload", "kafka")
	t.Cleanup(func() { metrics.SetCriticalComponents("workload", "kafka") })

	tests := []struct {
		name       string
		status     types.Status
		kafkaUp    bool
		wantCode   int
		wantReason string
	}{
		{"active and healthy", types.StatusActive, true, http.StatusOK, ""},
		{"blocked replica", types.StatusKafkaNotRelated, true, http.StatusServiceUnavailable, "missing required kafka relation"},
		{"kafka down", types.StatusActive, false, http.StatusServiceUnavailable, "waiting for kafka"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics.UpdateComponent("workload", true, "running")
			metrics.UpdateComponent("kafka", tt.kafkaUp, "probe")

			hs := NewHealthServer(&fakeSource{status: tt.status, leader: true})
			req := httptest.NewRequest(http.MethodGet, "/ready", nil)
			w := httptest.NewRecorder()
			hs.readyHandler(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			var response ReadyResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, tt.status.Name, response.Checks["replica"])
			assert.Equal(t, "karapace-0", response.Checks["leader"])
			if tt.wantReason != "" {
				assert.Contains(t, response.Message, tt.wantReason)
			}
		})
	}
}

// TestHealthRoutes verifies routes are registered
func TestHealthRoutes(t *testing.T) {
	hs := NewHealthServer(nil)

	tests := []struct {
		path           string
		expectedStatus int
	}{
		{path: "/health", expectedStatus: http.StatusOK},
		{path: "/ready", expectedStatus: http.StatusServiceUnavailable},
		{path: "/live", expectedStatus: http.StatusOK},
		{path: "/metrics", expectedStatus: http.StatusOK},
		{path: "/nonexistent", expectedStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			w := httptest.NewRecorder()

			hs.GetHandler().ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code, "Path: %s", tt.path)
		})
	}
}

func TestHealthServerConcurrency(t *testing.T) {
	handler := NewHealthServer(&fakeSource{status: types.StatusActive}).GetHandler()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		path := "/health"
		if i%2 == 1 {
			path = "/ready"
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Contains(t, []int{http.StatusOK, http.StatusServiceUnavailable}, w.Code, path)
		}()
	}
	wg.Wait()
}

func BenchmarkReadyHandler(b *testing.B) {
	hs := NewHealthServer(&fakeSource{status: types.StatusActive, leader: true})
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		hs.readyHandler(httptest.NewRecorder(), req)
	}
}
