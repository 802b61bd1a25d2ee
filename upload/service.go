// Package upload drives a complete portal upload: authentication, asset lookup,
// packaging and the chunked transfer.
package upload

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/artifact"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/auth"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/backoff"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/classify"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/config"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/portal"
	"github.com/docker/go-units"
)

// Portal is the part of the portal API used by an upload.
type Portal interface {
	ResolveAssetID(ctx context.Context, name, cookieHeader string) (string, error)
	StartReupload(ctx context.Context, request portal.ReuploadRequest, cookieHeader string) error
	UploadChunk(ctx context.Context, assetID string, index int, data []byte, cookieHeader string) error
	CompleteUpload(ctx context.Context, assetID, cookieHeader string) error
}

// Packager ...
type Packager interface {
	CreateArchive(workspacePath, assetName string, excludes []string) (string, error)
}

// Dependencies ...
type Dependencies struct {
	Auth      auth.Provider
	Portal    Portal
	Packager  Packager
	Artifacts artifact.Resolver
	Logger    log.Logger
}

// Result describes a finished run.
type Result struct {
	SkippedUpload     bool
	AuthenticatedWith auth.Source
	AssetID           string
	AssetName         string
	ZipPath           string
	UploadedChunks    int
	TotalBytes        int64
	UploadDuration    time.Duration
}

// Service ...
type Service struct {
	auth      auth.Provider
	portal    Portal
	packager  Packager
	artifacts artifact.Resolver
	logger    log.Logger
}

// NewService ...
func NewService(deps Dependencies) *Service {
	return &Service{
		auth:      deps.Auth,
		portal:    deps.Portal,
		packager:  deps.Packager,
		artifacts: deps.Artifacts,
		logger:    deps.Logger,
	}
}

// Run authenticates, then unless cfg.SkipUpload is set, replaces the content of the
// configured asset with the archive. Every returned error is a *classify.Error.
func (s *Service) Run(ctx context.Context, cfg config.RunConfig) (Result, error) {
	session, err := s.auth.Session(ctx, cfg.Cookie)
	if err != nil {
		return Result{}, classify.Classify(err, classify.KindAuth)
	}
	s.logger.Infof("Authenticated against CFX portal using %s mode.", session.Source)

	if cfg.SkipUpload {
		s.logger.Infof("Skipping upload due to skipUpload=true")
		return Result{
			SkippedUpload:     true,
			AuthenticatedWith: session.Source,
		}, nil
	}

	retrier := backoff.NewRetrier(cfg.RetryPolicy, s.logger)

	assetID, err := s.resolveAssetID(ctx, retrier, cfg, session.CookieHeader)
	if err != nil {
		return Result{}, err
	}

	zipPath, err := s.resolveZipPath(ctx, cfg)
	if err != nil {
		return Result{}, err
	}

	stats, err := s.uploadZip(ctx, retrier, assetID, zipPath, cfg.ChunkSize, session.CookieHeader)
	if err != nil {
		return Result{}, err
	}
	s.logger.Infof("Upload completed successfully.")

	return Result{
		AuthenticatedWith: session.Source,
		AssetID:           assetID,
		AssetName:         cfg.AssetName,
		ZipPath:           zipPath,
		UploadedChunks:    stats.FinishedCount(),
		TotalBytes:        stats.Bytes(),
		UploadDuration:    stats.Total(),
	}, nil
}

func (s *Service) resolveAssetID(ctx context.Context, retrier *backoff.Retrier, cfg config.RunConfig, cookieHeader string) (string, error) {
	if cfg.AssetID != "" {
		if cfg.AssetName != "" {
			s.logger.Debugf("Both assetId and assetName were provided. assetId takes precedence.")
		}
		return cfg.AssetID, nil
	}

	if cfg.AssetName == "" {
		return "", classify.New(
			classify.KindConfig,
			"assetName or assetId must be provided when skipUpload is false.",
			false,
			"Provide assetId directly or set assetName to the exact portal asset name.",
		)
	}

	return backoff.Do(ctx, retrier, fmt.Sprintf("Resolve asset id for \"%s\"", cfg.AssetName), func(ctx context.Context) (string, error) {
		return s.portal.ResolveAssetID(ctx, cfg.AssetName, cookieHeader)
	})
}

func (s *Service) resolveZipPath(ctx context.Context, cfg config.RunConfig) (string, error) {
	if cfg.ZipPath != "" {
		s.logger.Debugf("Using provided zipPath: %s", cfg.ZipPath)
		localPath, err := s.artifacts.LocalPath(ctx, cfg.ZipPath)
		if err != nil {
			return "", classify.New(
				classify.KindConfig,
				fmt.Sprintf("Failed to access zipPath \"%s\": %s", cfg.ZipPath, err),
				false,
				"Check that zipPath points to an existing local file, URL or S3 object.",
			)
		}
		return localPath, nil
	}

	if !cfg.MakeZip {
		return "", classify.New(
			classify.KindConfig,
			"Either zipPath or makeZip must be provided to upload a file.",
			false,
			"Set zipPath to an existing zip or enable makeZip=true.",
		)
	}

	if cfg.AssetName == "" {
		return "", classify.New(
			classify.KindConfig,
			"assetName is required to generate a zip path when makeZip is enabled.",
			false,
			"Provide assetName or explicit zipPath.",
		)
	}

	s.logger.Infof("Creating zip file ...")
	zipPath, err := s.packager.CreateArchive(cfg.WorkspacePath, cfg.AssetName, cfg.ZipExclude)
	if err != nil {
		return "", classify.New(
			classify.KindUpload,
			fmt.Sprintf("Failed to create zip file: %s", err),
			false,
			"Check that workspacePath exists and is readable.",
		)
	}
	s.logger.Donef("Zip file created: %s", zipPath)

	return zipPath, nil
}

func (s *Service) uploadZip(ctx context.Context, retrier *backoff.Retrier, assetID, zipPath string, chunkSize int64, cookieHeader string) (*Stats, error) {
	reader, err := newChunkReader(zipPath, chunkSize)
	if err != nil {
		return nil, classify.New(
			classify.KindUpload,
			fmt.Sprintf("Zip file \"%s\" could not be read: %s", zipPath, err),
			false,
			"Check that the zip file exists and is readable.",
		)
	}
	defer func() {
		if err := reader.Close(); err != nil {
			s.logger.Warnf("Failed to close %s: %s", zipPath, err)
		}
	}()

	if reader.size <= 0 {
		return nil, classify.New(
			classify.KindUpload,
			fmt.Sprintf("Zip file \"%s\" is empty.", zipPath),
			false,
			"Ensure your artifact contains files before upload.",
		)
	}

	chunks := reader.NumChunks()
	s.logger.Printf("Uploading %s in %d chunks", units.HumanSizeWithPrecision(float64(reader.size), 3), chunks)

	request := portal.ReuploadRequest{
		AssetID:    assetID,
		ChunkCount: chunks,
		ChunkSize:  chunkSize,
		TotalSize:  reader.size,
		FileName:   filepath.Base(zipPath),
	}
	if err := retrier.Run(ctx, "Start re-upload session", func(ctx context.Context) error {
		return s.portal.StartReupload(ctx, request, cookieHeader)
	}); err != nil {
		return nil, err
	}

	stats := &Stats{}
	for index := 0; index < chunks; index++ {
		data, err := reader.Chunk(index)
		if err != nil {
			s.logger.Warnf("Upload interrupted after %d/%d chunks.", stats.FinishedCount(), chunks)
			return nil, classify.New(classify.KindUpload, err.Error(), false, "Check that the zip file is not modified during the upload.")
		}

		name := fmt.Sprintf("Upload chunk %d/%d", index+1, chunks)
		startTime := time.Now()
		if err := retrier.Run(ctx, name, func(ctx context.Context) error {
			return s.portal.UploadChunk(ctx, assetID, index, data, cookieHeader)
		}); err != nil {
			s.logger.Warnf("Upload interrupted after %d/%d chunks.", stats.FinishedCount(), chunks)
			return nil, err
		}
		stats.Update(time.Since(startTime), int64(len(data)))

		s.logger.Infof("Uploaded chunk %d/%d", index+1, chunks)
	}
	s.logger.Debugf("Average chunk upload time: %s", stats.Average())

	if err := retrier.Run(ctx, "Complete upload", func(ctx context.Context) error {
		return s.portal.CompleteUpload(ctx, assetID, cookieHeader)
	}); err != nil {
		return nil, err
	}

	return stats, nil
}
