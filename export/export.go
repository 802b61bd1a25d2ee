// Package export exposes the upload result to the subsequent steps of a build.
package export

import (
	"fmt"
	"strconv"

	"github.com/bitrise-io/go-utils/v2/command"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/upload"
)

// Output keys.
const (
	AuthSourceKey     = "CFX_PORTAL_AUTH_SOURCE"
	AssetIDKey        = "CFX_PORTAL_ASSET_ID"
	UploadedChunksKey = "CFX_PORTAL_UPLOADED_CHUNKS"
	ZipPathKey        = "CFX_PORTAL_ZIP_PATH"
)

// Exporter ...
type Exporter struct {
	cmdFactory command.Factory
}

// NewExporter ...
func NewExporter(cmdFactory command.Factory) Exporter {
	return Exporter{cmdFactory: cmdFactory}
}

// ExportOutput is used for exposing values for other steps.
// Regular env vars are isolated between steps, so instead of calling `os.Setenv()`, use this to explicitly expose
// a value for subsequent steps.
func (e *Exporter) ExportOutput(key, value string) error {
	cmd := e.cmdFactory.Create("envman", []string{"add", "--key", key, "--value", value}, nil)
	return runExport(cmd)
}

// ExportOutputNoExpand works like ExportOutput but does not expand environment variables in the value.
func (e *Exporter) ExportOutputNoExpand(key, value string) error {
	cmd := e.cmdFactory.Create("envman", []string{"add", "--key", key, "--value", value, "--no-expand"}, nil)
	return runExport(cmd)
}

// ExportResult exports the auth source and uploaded chunk count of every run,
// the asset id and zip path only when something was uploaded.
func (e *Exporter) ExportResult(result upload.Result) error {
	if err := e.ExportOutput(AuthSourceKey, string(result.AuthenticatedWith)); err != nil {
		return fmt.Errorf("export %s: %w", AuthSourceKey, err)
	}
	if err := e.ExportOutput(UploadedChunksKey, strconv.Itoa(result.UploadedChunks)); err != nil {
		return fmt.Errorf("export %s: %w", UploadedChunksKey, err)
	}
	if result.SkippedUpload {
		return nil
	}

	if err := e.ExportOutputNoExpand(AssetIDKey, result.AssetID); err != nil {
		return fmt.Errorf("export %s: %w", AssetIDKey, err)
	}
	if err := e.ExportOutputNoExpand(ZipPathKey, result.ZipPath); err != nil {
		return fmt.Errorf("export %s: %w", ZipPathKey, err)
	}

	return nil
}

func runExport(cmd command.Command) error {
	out, err := cmd.RunAndReturnTrimmedCombinedOutput()
	if err != nil {
		return fmt.Errorf("exporting output with envman failed: %s, output: %s", err, out)
	}
	return nil
}
