// Package config validates the raw step inputs or CLI flags and turns them
// into the RunConfig consumed by the upload service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/artifact"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/auth"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/backoff"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/classify"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/stepconf"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/docker/go-units"
)

// Defaults.
const (
	DefaultChunkSize        = 2097152
	DefaultMaxRetries       = 3
	DefaultRequestTimeoutMs = 30000
	DefaultRetryBaseDelayMs = 500
	DefaultRetryMaxDelayMs  = 5000
)

const configSuggestion = "Check the step inputs and try again."

// RawInputs holds the settings exactly as the user provided them.
type RawInputs struct {
	Cookie             stepconf.Secret `env:"cookie,required"`
	MakeZip            string          `env:"make_zip"`
	AssetName          string          `env:"asset_name"`
	AssetID            string          `env:"asset_id"`
	ZipPath            string          `env:"zip_path"`
	SkipUpload         string          `env:"skip_upload"`
	ChunkSize          string          `env:"chunk_size"`
	MaxRetries         string          `env:"max_retries"`
	AuthMode           string          `env:"auth_mode"`
	RequestTimeoutMs   string          `env:"request_timeout_ms"`
	RetryBaseDelayMs   string          `env:"retry_base_delay_ms"`
	RetryMaxDelayMs    string          `env:"retry_max_delay_ms"`
	ZipExclude         string          `env:"zip_exclude"`
	WorkspacePath      string          `env:"workspace_path"`
	ChromePath         string          `env:"chrome_path"`
	Verbose            string          `env:"verbose"`
	AWSRegion          string          `env:"aws_region"`
	AWSAccessKeyID     stepconf.Secret `env:"aws_access_key_id"`
	AWSSecretAccessKey stepconf.Secret `env:"aws_secret_access_key"`
}

// RunConfig is the validated configuration of a single run.
type RunConfig struct {
	Cookie         string
	MakeZip        bool
	AssetName      string
	AssetID        string
	ZipPath        string
	SkipUpload     bool
	ChunkSize      int64
	AuthMode       auth.Mode
	RequestTimeout time.Duration
	RetryPolicy    backoff.Policy
	ZipExclude     []string
	WorkspacePath  string
	ChromePath     string
	Verbose        bool
	S3             artifact.S3Config
}

// Parse validates raw and applies the defaults. envRepo is used to find the workspace
// when it is not set explicitly.
func Parse(raw RawInputs, envRepo env.Repository) (RunConfig, error) {
	cookie := strings.TrimSpace(string(raw.Cookie))
	if cookie == "" {
		return RunConfig{}, configError(`Input "cookie" is required.`)
	}

	workspacePath, err := resolveWorkspacePath(raw.WorkspacePath, envRepo)
	if err != nil {
		return RunConfig{}, err
	}

	makeZip, err := parseBool(raw.MakeZip, true)
	if err != nil {
		return RunConfig{}, err
	}
	skipUpload, err := parseBool(raw.SkipUpload, false)
	if err != nil {
		return RunConfig{}, err
	}
	verbose, err := parseBool(raw.Verbose, false)
	if err != nil {
		return RunConfig{}, err
	}

	assetName := strings.TrimSpace(raw.AssetName)
	assetID := strings.TrimSpace(raw.AssetID)
	if assetName == "" && (makeZip || (assetID == "" && !skipUpload)) {
		assetName = filepath.Base(workspacePath)
	}

	chunkSize, err := parseChunkSize(raw.ChunkSize)
	if err != nil {
		return RunConfig{}, err
	}
	maxRetries, err := parseNonNegativeInt(raw.MaxRetries, DefaultMaxRetries, "Invalid max retries. Must be a number.")
	if err != nil {
		return RunConfig{}, err
	}
	requestTimeoutMs, err := parsePositiveInt(raw.RequestTimeoutMs, DefaultRequestTimeoutMs, "Invalid request timeout. Must be a number.")
	if err != nil {
		return RunConfig{}, err
	}
	retryBaseDelayMs, err := parsePositiveInt(raw.RetryBaseDelayMs, DefaultRetryBaseDelayMs, "Invalid retry base delay. Must be a number.")
	if err != nil {
		return RunConfig{}, err
	}
	retryMaxDelayMs, err := parsePositiveInt(raw.RetryMaxDelayMs, DefaultRetryMaxDelayMs, "Invalid retry max delay. Must be a number.")
	if err != nil {
		return RunConfig{}, err
	}
	if retryMaxDelayMs < retryBaseDelayMs {
		return RunConfig{}, configError("retryMaxDelayMs must be greater than or equal to retryBaseDelayMs.")
	}

	authMode, err := auth.ParseMode(raw.AuthMode)
	if err != nil {
		return RunConfig{}, configError(fmt.Sprintf("Invalid authMode \"%s\". Allowed values are: auto, http, browser.", raw.AuthMode))
	}

	zipExclude, err := parseZipExclude(raw.ZipExclude)
	if err != nil {
		return RunConfig{}, err
	}

	return RunConfig{
		Cookie:         cookie,
		MakeZip:        makeZip,
		AssetName:      assetName,
		AssetID:        assetID,
		ZipPath:        strings.TrimSpace(raw.ZipPath),
		SkipUpload:     skipUpload,
		ChunkSize:      chunkSize,
		AuthMode:       authMode,
		RequestTimeout: time.Duration(requestTimeoutMs) * time.Millisecond,
		RetryPolicy: backoff.Policy{
			MaxRetries: maxRetries,
			BaseDelay:  time.Duration(retryBaseDelayMs) * time.Millisecond,
			MaxDelay:   time.Duration(retryMaxDelayMs) * time.Millisecond,
		},
		ZipExclude:    zipExclude,
		WorkspacePath: workspacePath,
		ChromePath:    strings.TrimSpace(raw.ChromePath),
		Verbose:       verbose,
		S3: artifact.S3Config{
			Region:          strings.TrimSpace(raw.AWSRegion),
			AccessKeyID:     string(raw.AWSAccessKeyID),
			SecretAccessKey: string(raw.AWSSecretAccessKey),
		},
	}, nil
}

func configError(message string) *classify.Error {
	return classify.New(classify.KindConfig, message, false, configSuggestion)
}

func parseBool(value string, defaultValue bool) (bool, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "":
		return defaultValue, nil
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, configError(fmt.Sprintf("Invalid boolean value \"%s\". Use true or false.", value))
	}
}

func parseInt(value string, errorMessage string) (int64, bool, error) {
	normalized := strings.TrimSpace(value)
	if normalized == "" {
		return 0, false, nil
	}

	parsed, err := strconv.ParseInt(normalized, 10, 64)
	if err != nil {
		return 0, false, configError(errorMessage)
	}
	return parsed, true, nil
}

func parsePositiveInt(value string, defaultValue int, errorMessage string) (int, error) {
	parsed, ok, err := parseInt(value, errorMessage)
	if err != nil {
		return 0, err
	}
	if !ok {
		return defaultValue, nil
	}
	if parsed <= 0 {
		return 0, configError(errorMessage + " Value must be greater than zero.")
	}
	return int(parsed), nil
}

func parseNonNegativeInt(value string, defaultValue int, errorMessage string) (int, error) {
	parsed, ok, err := parseInt(value, errorMessage)
	if err != nil {
		return 0, err
	}
	if !ok {
		return defaultValue, nil
	}
	if parsed < 0 {
		return 0, configError(errorMessage + " Value must be zero or greater.")
	}
	return int(parsed), nil
}

// parseChunkSize accepts a byte count or a size with a unit, like 2MiB or 512k.
func parseChunkSize(value string) (int64, error) {
	const errorMessage = "Invalid chunk size. Must be a number."

	normalized := strings.TrimSpace(value)
	if normalized == "" {
		return DefaultChunkSize, nil
	}

	size, err := strconv.ParseInt(normalized, 10, 64)
	if err != nil {
		size, err = units.RAMInBytes(normalized)
		if err != nil {
			return 0, configError(errorMessage)
		}
	}
	if size <= 0 {
		return 0, configError(errorMessage + " Value must be greater than zero.")
	}

	return size, nil
}

func parseZipExclude(value string) ([]string, error) {
	var patterns []string
	for _, pattern := range strings.Split(value, ",") {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if !doublestar.ValidatePattern(pattern) {
			return nil, configError(fmt.Sprintf("Invalid zipExclude pattern \"%s\".", pattern))
		}
		patterns = append(patterns, pattern)
	}
	return patterns, nil
}

func resolveWorkspacePath(value string, envRepo env.Repository) (string, error) {
	if strings.TrimSpace(value) != "" {
		return value, nil
	}

	for _, key := range []string{"BITRISE_SOURCE_DIR", "GITHUB_WORKSPACE"} {
		if workspace := envRepo.Get(key); workspace != "" {
			return workspace, nil
		}
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	return wd, nil
}
