package config

import (
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/auth"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/backoff"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/classify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEnvRepository(t *testing.T, values map[string]string) env.Repository {
	for _, key := range []string{"BITRISE_SOURCE_DIR", "GITHUB_WORKSPACE"} {
		t.Setenv(key, values[key])
	}
	return env.NewRepository()
}

func TestParse_Defaults(t *testing.T) {
	envRepo := newEnvRepository(t, map[string]string{"BITRISE_SOURCE_DIR": "/bitrise/src/my-resource"})

	cfg, err := Parse(RawInputs{Cookie: " forum-cookie "}, envRepo)

	require.NoError(t, err)
	assert.Equal(t, RunConfig{
		Cookie:         "forum-cookie",
		MakeZip:        true,
		AssetName:      "my-resource",
		ChunkSize:      2097152,
		AuthMode:       auth.ModeAuto,
		RequestTimeout: 30 * time.Second,
		RetryPolicy: backoff.Policy{
			MaxRetries: 3,
			BaseDelay:  500 * time.Millisecond,
			MaxDelay:   5 * time.Second,
		},
		WorkspacePath: "/bitrise/src/my-resource",
	}, cfg)
}

func TestParse_AllInputs(t *testing.T) {
	envRepo := newEnvRepository(t, nil)

	cfg, err := Parse(RawInputs{
		Cookie:             "forum-cookie",
		MakeZip:            "FALSE",
		AssetName:          "my-resource",
		AssetID:            "42",
		ZipPath:            "s3://artifacts/my-resource.zip",
		SkipUpload:         "false",
		ChunkSize:          "1MiB",
		MaxRetries:         "0",
		AuthMode:           "Browser",
		RequestTimeoutMs:   "1000",
		RetryBaseDelayMs:   "100",
		RetryMaxDelayMs:    "100",
		ZipExclude:         " dist/**, ,*.log ",
		WorkspacePath:      "/tmp/workspace",
		ChromePath:         "/usr/bin/chromium",
		Verbose:            "true",
		AWSRegion:          "eu-west-1",
		AWSAccessKeyID:     "key-id",
		AWSSecretAccessKey: "secret",
	}, envRepo)

	require.NoError(t, err)
	assert.False(t, cfg.MakeZip)
	assert.Equal(t, "my-resource", cfg.AssetName)
	assert.Equal(t, "42", cfg.AssetID)
	assert.Equal(t, "s3://artifacts/my-resource.zip", cfg.ZipPath)
	assert.Equal(t, int64(1048576), cfg.ChunkSize)
	assert.Equal(t, auth.ModeBrowser, cfg.AuthMode)
	assert.Equal(t, time.Second, cfg.RequestTimeout)
	assert.Equal(t, backoff.Policy{MaxRetries: 0, BaseDelay: 100 * time.Millisecond, MaxDelay: 100 * time.Millisecond}, cfg.RetryPolicy)
	assert.Equal(t, []string{"dist/**", "*.log"}, cfg.ZipExclude)
	assert.Equal(t, "/tmp/workspace", cfg.WorkspacePath)
	assert.Equal(t, "/usr/bin/chromium", cfg.ChromePath)
	assert.True(t, cfg.Verbose)
	assert.Equal(t, "eu-west-1", cfg.S3.Region)
	assert.Equal(t, "key-id", cfg.S3.AccessKeyID)
	assert.Equal(t, "secret", cfg.S3.SecretAccessKey)
}

func TestParse_AssetNameDefault(t *testing.T) {
	tests := []struct {
		name      string
		raw       RawInputs
		wantAsset string
	}{
		{
			name:      "zip defaults to workspace name",
			raw:       RawInputs{MakeZip: "true", AssetID: "42"},
			wantAsset: "my-resource",
		},
		{
			name:      "upload without id defaults to workspace name",
			raw:       RawInputs{MakeZip: "false"},
			wantAsset: "my-resource",
		},
		{
			name:      "id without zip needs no name",
			raw:       RawInputs{MakeZip: "false", AssetID: "42"},
			wantAsset: "",
		},
		{
			name:      "skipped upload without zip needs no name",
			raw:       RawInputs{MakeZip: "false", SkipUpload: "true"},
			wantAsset: "",
		},
		{
			name:      "explicit name wins",
			raw:       RawInputs{AssetName: "other"},
			wantAsset: "other",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := tt.raw
			raw.Cookie = "forum-cookie"
			raw.WorkspacePath = "/ci/workspace/my-resource"

			cfg, err := Parse(raw, newEnvRepository(t, nil))

			require.NoError(t, err)
			assert.Equal(t, tt.wantAsset, cfg.AssetName)
		})
	}
}

func TestParse_WorkspaceFallback(t *testing.T) {
	envRepo := newEnvRepository(t, map[string]string{"GITHUB_WORKSPACE": "/github/workspace/my-resource"})

	cfg, err := Parse(RawInputs{Cookie: "forum-cookie"}, envRepo)

	require.NoError(t, err)
	assert.Equal(t, "/github/workspace/my-resource", cfg.WorkspacePath)

	envRepo = newEnvRepository(t, nil)
	cfg, err = Parse(RawInputs{Cookie: "forum-cookie"}, envRepo)

	require.NoError(t, err)
	assert.NotEmpty(t, cfg.WorkspacePath)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		raw     RawInputs
		wantErr string
	}{
		{
			name:    "missing cookie",
			raw:     RawInputs{Cookie: "  "},
			wantErr: `Input "cookie" is required.`,
		},
		{
			name:    "invalid bool",
			raw:     RawInputs{MakeZip: "yes"},
			wantErr: `Invalid boolean value "yes". Use true or false.`,
		},
		{
			name:    "chunk size not a number",
			raw:     RawInputs{ChunkSize: "lots"},
			wantErr: "Invalid chunk size. Must be a number.",
		},
		{
			name:    "chunk size zero",
			raw:     RawInputs{ChunkSize: "0"},
			wantErr: "Invalid chunk size. Must be a number. Value must be greater than zero.",
		},
		{
			name:    "negative retries",
			raw:     RawInputs{MaxRetries: "-1"},
			wantErr: "Invalid max retries. Must be a number. Value must be zero or greater.",
		},
		{
			name:    "retries not a number",
			raw:     RawInputs{MaxRetries: "1.5"},
			wantErr: "Invalid max retries. Must be a number.",
		},
		{
			name:    "zero timeout",
			raw:     RawInputs{RequestTimeoutMs: "0"},
			wantErr: "Invalid request timeout. Must be a number. Value must be greater than zero.",
		},
		{
			name:    "base delay not a number",
			raw:     RawInputs{RetryBaseDelayMs: "fast"},
			wantErr: "Invalid retry base delay. Must be a number.",
		},
		{
			name:    "negative max delay",
			raw:     RawInputs{RetryMaxDelayMs: "-5"},
			wantErr: "Invalid retry max delay. Must be a number. Value must be greater than zero.",
		},
		{
			name:    "max delay below base delay",
			raw:     RawInputs{RetryBaseDelayMs: "1000", RetryMaxDelayMs: "500"},
			wantErr: "retryMaxDelayMs must be greater than or equal to retryBaseDelayMs.",
		},
		{
			name:    "unknown auth mode",
			raw:     RawInputs{AuthMode: "token"},
			wantErr: `Invalid authMode "token". Allowed values are: auto, http, browser.`,
		},
		{
			name:    "invalid exclude pattern",
			raw:     RawInputs{ZipExclude: "dist/[a"},
			wantErr: `Invalid zipExclude pattern "dist/[a".`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := tt.raw
			if raw.Cookie == "" {
				raw.Cookie = "forum-cookie"
			}
			raw.WorkspacePath = "/ci/workspace/my-resource"

			_, err := Parse(raw, newEnvRepository(t, nil))

			require.EqualError(t, err, tt.wantErr)
			var classified *classify.Error
			require.ErrorAs(t, err, &classified)
			assert.Equal(t, classify.KindConfig, classified.Kind)
			assert.False(t, classified.Retriable)
		})
	}
}
