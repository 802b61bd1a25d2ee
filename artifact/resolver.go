// Package artifact turns the configured artifact location into a local file path.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/melbahja/got"
)

const (
	fileScheme  = "file://"
	httpScheme  = "http://"
	httpsScheme = "https://"
	s3Scheme    = "s3://"
)

// Resolver ...
type Resolver interface {
	// LocalPath returns path itself for local paths, the absolute path for
	// `file://` paths, and downloads `http(s)://` and `s3://` artifacts into a
	// temporary directory.
	LocalPath(ctx context.Context, path string) (string, error)
}

// S3Config holds the credentials used for `s3://` artifacts.
type S3Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

type resolver struct {
	s3Config     S3Config
	pathProvider pathutil.PathProvider
	pathModifier pathutil.PathModifier
	httpClient   *http.Client
	s3           s3Fetcher
	logger       log.Logger
}

// NewResolver ...
func NewResolver(s3Config S3Config, pathProvider pathutil.PathProvider, pathModifier pathutil.PathModifier, logger log.Logger) Resolver {
	retryableHTTPClient := retryhttp.NewClient(logger)
	retryableHTTPClient.CheckRetry = createCustomRetryFunction(logger)

	return &resolver{
		s3Config:     s3Config,
		pathProvider: pathProvider,
		pathModifier: pathModifier,
		httpClient:   retryableHTTPClient.StandardClient(),
		s3:           newS3Fetcher(logger),
		logger:       logger,
	}
}

func (r *resolver) LocalPath(ctx context.Context, path string) (string, error) {
	switch {
	case path == "":
		return "", errors.New("artifact path is empty")
	case strings.HasPrefix(path, fileScheme):
		return r.pathModifier.AbsPath(strings.TrimPrefix(path, fileScheme))
	case strings.HasPrefix(path, httpScheme), strings.HasPrefix(path, httpsScheme):
		return r.download(ctx, path)
	case strings.HasPrefix(path, s3Scheme):
		return r.downloadFromS3(ctx, path)
	case strings.Contains(path, "://"):
		return "", fmt.Errorf("unsupported artifact location: %s", path)
	default:
		return path, nil
	}
}

func (r *resolver) download(ctx context.Context, rawURL string) (string, error) {
	localPath, err := r.tempPath(rawURL)
	if err != nil {
		return "", err
	}

	r.logger.Debugf("Downloading artifact from %s", rawURL)
	downloader := got.New()
	downloader.Client = r.httpClient
	if err := downloader.Do(got.NewDownload(ctx, rawURL, localPath)); err != nil {
		return "", fmt.Errorf("download artifact from %s: %w", rawURL, err)
	}

	return localPath, nil
}

func (r *resolver) downloadFromS3(ctx context.Context, rawURL string) (string, error) {
	location, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse artifact location: %w", err)
	}
	bucket := location.Host
	key := strings.TrimPrefix(location.Path, "/")
	if bucket == "" || key == "" {
		return "", fmt.Errorf("artifact location must be s3://<bucket>/<key>, got: %s", rawURL)
	}

	localPath, err := r.tempPath(rawURL)
	if err != nil {
		return "", err
	}

	r.logger.Debugf("Downloading artifact from bucket %s, key %s", bucket, key)
	if err := r.s3.fetch(ctx, r.s3Config, bucket, key, localPath); err != nil {
		return "", fmt.Errorf("download artifact from %s: %w", rawURL, err)
	}

	return localPath, nil
}

// tempPath returns a path in a new temporary directory keeping the file name of the remote artifact.
func (r *resolver) tempPath(rawURL string) (string, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse artifact location: %w", err)
	}
	fileName := filepath.Base(parsedURL.Path)
	if fileName == "." || fileName == "/" {
		return "", fmt.Errorf("artifact location has no file name: %s", rawURL)
	}

	tmpDir, err := r.pathProvider.CreateTempDir("artifact")
	if err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}

	return filepath.Join(tmpDir, fileName), nil
}

func createCustomRetryFunction(logger log.Logger) func(context.Context, *http.Response, error) (bool, error) {
	return func(ctx context.Context, resp *http.Response, downloadErr error) (bool, error) {
		retry, err := retryablehttp.DefaultRetryPolicy(ctx, resp, downloadErr)
		logger.Debugf("CheckRetry: retry=%v ; err=%+v ; downloadErr=%+v", retry, err, downloadErr)
		return retry, err
	}
}
