package step

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/command"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/auth"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/backoff"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/classify"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/config"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/portal"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/stepconf"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/upload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapEnv map[string]string

func (m mapEnv) Get(key string) string {
	return m[key]
}

func newTestStep(inputs mapEnv, endpoints portal.Endpoints) PortalUploadStep {
	envRepo := env.NewRepository()
	s := NewPortalUploadStep(log.NewLogger(), stepconf.NewInputParser(inputs), envRepo, command.NewFactory(envRepo))
	s.endpoints = endpoints
	return s
}

func TestProcessInputs(t *testing.T) {
	t.Setenv("BITRISE_SOURCE_DIR", "/bitrise/src/my-resource")
	s := newTestStep(mapEnv{
		"cookie":      "forum-cookie",
		"asset_id":    "42",
		"chunk_size":  "1MiB",
		"auth_mode":   "http",
		"max_retries": "0",
	}, portal.DefaultEndpoints())

	cfg, err := s.ProcessInputs()

	require.NoError(t, err)
	assert.Equal(t, "forum-cookie", cfg.Cookie)
	assert.Equal(t, "42", cfg.AssetID)
	assert.Equal(t, "my-resource", cfg.AssetName)
	assert.Equal(t, int64(1048576), cfg.ChunkSize)
	assert.Equal(t, auth.ModeHTTP, cfg.AuthMode)
	assert.Equal(t, 0, cfg.RetryPolicy.MaxRetries)
	assert.Equal(t, "/bitrise/src/my-resource", cfg.WorkspacePath)
}

func TestProcessInputs_Errors(t *testing.T) {
	tests := []struct {
		name   string
		inputs mapEnv
	}{
		{name: "missing cookie", inputs: mapEnv{}},
		{name: "invalid value", inputs: mapEnv{"cookie": "forum-cookie", "max_retries": "many"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStep(tt.inputs, portal.DefaultEndpoints())

			_, err := s.ProcessInputs()

			var classified *classify.Error
			require.ErrorAs(t, err, &classified)
			assert.Equal(t, classify.KindConfig, classified.Kind)
		})
	}
}

func TestBrowserConfig(t *testing.T) {
	endpoints := portal.DefaultEndpoints()

	got := BrowserConfig(config.RunConfig{
		RequestTimeout: 30 * time.Second,
		RetryPolicy:    backoff.Policy{MaxRetries: 0},
	}, endpoints)

	assert.Equal(t, auth.BrowserConfig{
		SSOURL:             "https://portal-api.cfx.re/v1/auth/discourse?return=",
		CookieDomain:       "forum.cfx.re",
		PortalDomain:       "portal.cfx.re",
		NavigationAttempts: 1,
		NavigationTimeout:  30 * time.Second,
	}, got)

	got = BrowserConfig(config.RunConfig{RetryPolicy: backoff.Policy{MaxRetries: 3}}, endpoints)
	assert.Equal(t, 3, got.NavigationAttempts)
}

// fakePortalServer accepts every request and records them in order.
type fakePortalServer struct {
	mu       sync.Mutex
	requests []string
	cookies  []string
	chunks   []string
}

func (f *fakePortalServer) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		f.requests = append(f.requests, r.Method+" "+r.URL.Path)
		f.cookies = append(f.cookies, r.Header.Get("Cookie"))

		switch r.URL.Path {
		case "/v1/me/assets":
			require.NoError(t, json.NewEncoder(w).Encode(map[string]interface{}{"items": []interface{}{}}))
		case "/v1/assets/42/re-upload":
			_, err := io.WriteString(w, `{"errors":null}`)
			require.NoError(t, err)
		case "/v1/assets/42/upload-chunk":
			file, _, err := r.FormFile("chunk")
			require.NoError(t, err)
			data, err := io.ReadAll(file)
			require.NoError(t, err)
			f.chunks = append(f.chunks, r.FormValue("chunk_id")+":"+string(data))
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusOK)
		}
	})
}

func TestRun_UploadsThroughPortal(t *testing.T) {
	t.Setenv("BITRISE_STEP_EXECUTION_ID", "")
	fake := &fakePortalServer{}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	endpoints := portal.DefaultEndpoints()
	endpoints.BaseURL = server.URL + "/v1/"
	s := newTestStep(mapEnv{}, endpoints)

	archivePath := filepath.Join(t.TempDir(), "my-resource.zip")
	require.NoError(t, os.WriteFile(archivePath, []byte("0123456789"), 0600))

	result, err := s.Run(context.Background(), config.RunConfig{
		Cookie:         "forum-cookie",
		AssetID:        "42",
		ZipPath:        archivePath,
		ChunkSize:      4,
		AuthMode:       auth.ModeHTTP,
		RequestTimeout: 5 * time.Second,
		RetryPolicy:    backoff.Policy{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	})

	require.NoError(t, err)
	assert.Equal(t, upload.Result{
		AuthenticatedWith: auth.SourceHTTP,
		AssetID:           "42",
		ZipPath:           archivePath,
		UploadedChunks:    3,
		TotalBytes:        10,
		UploadDuration:    result.UploadDuration,
	}, result)
	assert.Equal(t, []string{
		"GET /v1/me/assets",
		"POST /v1/assets/42/re-upload",
		"POST /v1/assets/42/upload-chunk",
		"POST /v1/assets/42/upload-chunk",
		"POST /v1/assets/42/upload-chunk",
		"POST /v1/assets/42/complete-upload",
	}, fake.requests)
	assert.Equal(t, []string{"0:0123", "1:4567", "2:89"}, fake.chunks)
	for _, cookie := range fake.cookies {
		assert.Equal(t, "_t=forum-cookie", cookie)
	}
}

func TestRun_SkipUpload(t *testing.T) {
	t.Setenv("BITRISE_STEP_EXECUTION_ID", "")
	fake := &fakePortalServer{}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	endpoints := portal.DefaultEndpoints()
	endpoints.BaseURL = server.URL + "/v1/"
	s := newTestStep(mapEnv{}, endpoints)

	result, err := s.Run(context.Background(), config.RunConfig{
		Cookie:         "forum-cookie",
		SkipUpload:     true,
		AuthMode:       auth.ModeHTTP,
		RequestTimeout: 5 * time.Second,
		RetryPolicy:    backoff.DefaultPolicy(),
	})

	require.NoError(t, err)
	assert.Equal(t, upload.Result{SkippedUpload: true, AuthenticatedWith: auth.SourceHTTP}, result)
	assert.Equal(t, []string{"GET /v1/me/assets"}, fake.requests)
}

func TestRun_AuthRejected(t *testing.T) {
	t.Setenv("BITRISE_STEP_EXECUTION_ID", "")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	endpoints := portal.DefaultEndpoints()
	endpoints.BaseURL = server.URL + "/v1/"
	s := newTestStep(mapEnv{}, endpoints)

	_, err := s.Run(context.Background(), config.RunConfig{
		Cookie:         "forum-cookie",
		AssetID:        "42",
		AuthMode:       auth.ModeHTTP,
		RequestTimeout: 5 * time.Second,
		RetryPolicy:    backoff.DefaultPolicy(),
	})

	var classified *classify.Error
	require.ErrorAs(t, err, &classified)
	assert.Equal(t, classify.KindAuth, classified.Kind)
	assert.Equal(t, 401, classified.StatusCode)
}
