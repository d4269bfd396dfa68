package analysis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprite-ai/crev/internal/model"
)

func TestHTTPBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/analyze", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req analyzeRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "src/app.go", req.Path)
		assert.Equal(t, "package app\n", req.Content)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"findings":[{"rule_id":"SEC001","category":"Security",` +
			`"message":"Potential SQL injection","line":42,"severity":"CRITICAL"}]}`))
	}))
	defer srv.Close()

	findings, err := NewHTTP(srv.URL+"/", time.Second).AnalyzeFile(context.Background(), "src/app.go", "package app\n")
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "SEC001", findings[0].RuleID)
	assert.Equal(t, 42, findings[0].Line)
	assert.Equal(t, model.SeverityCritical, findings[0].RawSeverity)
}

func TestHTTPBackendErrorNoRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTP(srv.URL, 0).AnalyzeFile(context.Background(), "a.go", "")
	var berr *BackendError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, http.StatusServiceUnavailable, berr.StatusCode)
	assert.Contains(t, err.Error(), "model overloaded")
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPBackendBadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"findings":[{"severity":"SEVERE"}]}`))
	}))
	defer srv.Close()

	_, err := NewHTTP(srv.URL, 0).AnalyzeFile(context.Background(), "a.go", "")
	var berr *BackendError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, http.StatusOK, berr.StatusCode)
}

func TestHTTPBackendUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTP(url, time.Second).AnalyzeFile(context.Background(), "a.go", "")
	var berr *BackendError
	require.ErrorAs(t, err, &berr)
	assert.Zero(t, berr.StatusCode)
}

func TestHTTPBackendMissingSeverity(t *testing.T) {
	for name, body := range map[string]string{
		"omitted": `{"findings":[{"rule_id":"SEC001","line":3}]}`,
		"null":    `{"findings":[{"rule_id":"SEC001","line":3,"severity":null}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			findings, err := NewHTTP(srv.URL, 0).AnalyzeFile(context.Background(), "a.go", "")
			assert.Nil(t, findings)
			var berr *BackendError
			require.ErrorAs(t, err, &berr)
			assert.Contains(t, err.Error(), "SEC001")
			assert.Contains(t, err.Error(), "no severity")
		})
	}
}
