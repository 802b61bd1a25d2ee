package cli

import (
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/config"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/portal"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/step"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/stepconf"
	"github.com/spf13/cobra"
)

const cookieEnvKey = "CFX_PORTAL_COOKIE"

type uploadOptions struct {
	raw    config.RawInputs
	cookie string
	debug  bool
	apiURL string
}

func newUploadCommand(logger log.Logger, envRepo env.Repository) *cobra.Command {
	opts := &uploadOptions{}

	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Authenticate and upload an archive to a portal asset",
		Long: `Authenticate against the CFX portal with the forum cookie, then upload the archive
in chunks. Without --zip-path the workspace is zipped first.

The cookie may also be set in the CFX_PORTAL_COOKIE environment variable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runUpload(cmd, opts, logger, envRepo)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.cookie, "cookie", "", "forum _t cookie value")
	flags.StringVar(&opts.raw.AssetName, "asset-name", "", "exact portal asset name (default: workspace directory name)")
	flags.StringVar(&opts.raw.AssetID, "asset-id", "", "portal asset id, takes precedence over --asset-name")
	flags.StringVar(&opts.raw.ZipPath, "zip-path", "", "archive to upload: local path, file://, http(s):// or s3:// location")
	flags.StringVar(&opts.raw.MakeZip, "make-zip", "", "zip the workspace when --zip-path is not set <true|false> (default true)")
	flags.StringVar(&opts.raw.SkipUpload, "skip-upload", "", "only refresh the session <true|false>")
	flags.Lookup("skip-upload").NoOptDefVal = "true"
	flags.StringVar(&opts.raw.ChunkSize, "chunk-size", "", "chunk size in bytes or with unit, like 2MiB (default 2097152)")
	flags.StringVar(&opts.raw.MaxRetries, "max-retries", "", "retries after the first attempt of every portal call (default 3)")
	flags.StringVar(&opts.raw.AuthMode, "auth-mode", "", "auto, http or browser (default auto)")
	flags.StringVar(&opts.raw.RequestTimeoutMs, "request-timeout-ms", "", "timeout of a single request (default 30000)")
	flags.StringVar(&opts.raw.RetryBaseDelayMs, "retry-base-delay-ms", "", "first retry delay (default 500)")
	flags.StringVar(&opts.raw.RetryMaxDelayMs, "retry-max-delay-ms", "", "retry delay cap (default 5000)")
	flags.StringVar(&opts.raw.ZipExclude, "zip-exclude", "", `comma separated exclude patterns, like "dist/**,*.log"`)
	flags.StringVar(&opts.raw.WorkspacePath, "workspace-path", "", "directory to zip (default: current directory)")
	flags.StringVar(&opts.raw.ChromePath, "chrome-path", "", "Chrome or Chromium executable used for browser sign-in")
	flags.StringVar(&opts.raw.AWSRegion, "aws-region", "", "region of the s3:// bucket")
	flags.BoolVar(&opts.debug, "debug", false, "enable debug logging")
	flags.StringVar(&opts.apiURL, "api-url", "", "portal API base URL")
	_ = flags.MarkHidden("api-url")

	return cmd
}

func runUpload(cmd *cobra.Command, opts *uploadOptions, logger log.Logger, envRepo env.Repository) error {
	logger.EnableDebugLog(opts.debug)

	raw := opts.raw
	raw.Cookie = stepconf.Secret(opts.cookie)
	if raw.Cookie == "" {
		raw.Cookie = stepconf.Secret(envRepo.Get(cookieEnvKey))
	}
	raw.AWSAccessKeyID = stepconf.Secret(envRepo.Get("AWS_ACCESS_KEY_ID"))
	raw.AWSSecretAccessKey = stepconf.Secret(envRepo.Get("AWS_SECRET_ACCESS_KEY"))

	cfg, err := config.Parse(raw, envRepo)
	if err != nil {
		return err
	}

	endpoints := portal.DefaultEndpoints()
	if opts.apiURL != "" {
		endpoints.BaseURL = opts.apiURL
	}

	result, err := step.NewService(cfg, endpoints, logger).Run(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	if result.SkippedUpload {
		logger.Infof("Session refresh completed. Upload skipped.")
	} else {
		logger.Infof("Upload completed. assetId=%s chunks=%d", result.AssetID, result.UploadedChunks)
	}

	return nil
}
