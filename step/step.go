// Package step is the composition root shared by the Bitrise step and the CLI.
package step

import (
	"context"
	"fmt"

	"github.com/bitrise-io/go-utils/v2/command"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/analytics"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/artifact"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/auth"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/classify"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/config"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/export"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/packager"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/portal"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/stepconf"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/upload"
)

// NewService wires the portal client, the auth providers and the packaging
// collaborators of a single run.
func NewService(cfg config.RunConfig, endpoints portal.Endpoints, logger log.Logger) *upload.Service {
	portalClient := portal.NewClient(endpoints, cfg.RequestTimeout, logger)
	browser := auth.NewChromeBrowser(cfg.ChromePath, logger)
	provider := auth.NewProvider(cfg.AuthMode, portalClient, browser, BrowserConfig(cfg, endpoints), logger)

	return upload.NewService(upload.Dependencies{
		Auth:      provider,
		Portal:    portalClient,
		Packager:  packager.NewPackager(pathutil.NewPathProvider(), logger),
		Artifacts: artifact.NewResolver(cfg.S3, pathutil.NewPathProvider(), pathutil.NewPathModifier(), logger),
		Logger:    logger,
	})
}

// BrowserConfig derives the browser sign-in settings from the run configuration.
func BrowserConfig(cfg config.RunConfig, endpoints portal.Endpoints) auth.BrowserConfig {
	return auth.BrowserConfig{
		SSOURL:             endpoints.SSOURL(),
		CookieDomain:       endpoints.ForumCookieDomain,
		PortalDomain:       endpoints.PortalDomain,
		NavigationAttempts: max(1, cfg.RetryPolicy.MaxRetries),
		NavigationTimeout:  cfg.RequestTimeout,
	}
}

// PortalUploadStep runs the upload as a Bitrise step.
type PortalUploadStep struct {
	logger      log.Logger
	inputParser stepconf.InputParser
	envRepo     env.Repository
	exporter    export.Exporter
	endpoints   portal.Endpoints
}

// NewPortalUploadStep ...
func NewPortalUploadStep(logger log.Logger, inputParser stepconf.InputParser, envRepo env.Repository, cmdFactory command.Factory) PortalUploadStep {
	return PortalUploadStep{
		logger:      logger,
		inputParser: inputParser,
		envRepo:     envRepo,
		exporter:    export.NewExporter(cmdFactory),
		endpoints:   portal.DefaultEndpoints(),
	}
}

// ProcessInputs reads, prints and validates the step inputs.
func (s PortalUploadStep) ProcessInputs() (config.RunConfig, error) {
	var raw config.RawInputs
	if err := s.inputParser.Parse(&raw); err != nil {
		return config.RunConfig{}, classify.New(classify.KindConfig, err.Error(), false, "Check the step inputs and try again.")
	}
	stepconf.Print(raw)
	s.logger.Println()

	cfg, err := config.Parse(raw, s.envRepo)
	if err != nil {
		return config.RunConfig{}, err
	}
	s.logger.EnableDebugLog(cfg.Verbose)

	return cfg, nil
}

// Run ...
func (s PortalUploadStep) Run(ctx context.Context, cfg config.RunConfig) (upload.Result, error) {
	tracker, err := analytics.NewDefaultStepTracker(s.envRepo, s.logger)
	if err != nil {
		s.logger.Debugf("Analytics disabled: %s", err)
	}

	result, err := NewService(cfg, s.endpoints, s.logger).Run(ctx, cfg)
	if err != nil {
		return upload.Result{}, err
	}

	if tracker != nil {
		tracker.LogAuthenticated(cfg.AuthMode, result.AuthenticatedWith)
		tracker.LogUploadFinished(result)
		tracker.Wait()
	}

	if result.SkippedUpload {
		s.logger.Donef("Login/session refresh completed. Upload was skipped.")
	} else {
		s.logger.Donef("Upload finished for assetId=%s using %d chunk(s).", result.AssetID, result.UploadedChunks)
	}

	return result, nil
}

// ExportOutputs ...
func (s PortalUploadStep) ExportOutputs(result upload.Result) error {
	s.logger.Println()
	s.logger.Infof("Exporting outputs...")
	if err := s.exporter.ExportResult(result); err != nil {
		return fmt.Errorf("failed to export outputs: %w", err)
	}
	return nil
}
