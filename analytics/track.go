// Package analytics reports step events when running inside a Bitrise build.
package analytics

import (
	"fmt"
	"time"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/auth"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/upload"
)

// TrackerFactory ...
type TrackerFactory func(log.Logger, ...analytics.Properties) analytics.Tracker

const (
	StepExecutionIDEnvKey = "BITRISE_STEP_EXECUTION_ID"
	StepExecutionID       = "step_execution_id"
	StepID                = "cfx-portal-upload"
)

// StepTracker ...
type StepTracker struct {
	tracker analytics.Tracker
}

// NewStepTracker fails when the step does not run as part of a build.
func NewStepTracker(repository env.Repository, logger log.Logger, trackerFactory TrackerFactory) (*StepTracker, error) {
	stepExecutionID := repository.Get(StepExecutionIDEnvKey)
	if stepExecutionID == "" {
		return nil, fmt.Errorf("no step execution ID found")
	}

	p := analytics.Properties{
		StepExecutionID: stepExecutionID,
		"step_id":       StepID,
		"build_slug":    repository.Get("BITRISE_BUILD_SLUG"),
		"app_slug":      repository.Get("BITRISE_APP_SLUG"),
		"workflow":      repository.Get("BITRISE_TRIGGERED_WORKFLOW_ID"),
		"is_pr_build":   repository.Get("IS_PR") == "true",
	}
	return &StepTracker{tracker: trackerFactory(logger, p)}, nil
}

// NewDefaultStepTracker ...
func NewDefaultStepTracker(repository env.Repository, logger log.Logger) (*StepTracker, error) {
	return NewStepTracker(repository, logger, analytics.NewDefaultTracker)
}

func (t *StepTracker) LogAuthenticated(mode auth.Mode, source auth.Source) {
	t.tracker.Enqueue("step_cfx_portal_authenticated", analytics.Properties{
		"auth_mode":   string(mode),
		"auth_source": string(source),
	})
}

func (t *StepTracker) LogUploadFinished(result upload.Result) {
	t.tracker.Enqueue("step_cfx_portal_upload_finished", analytics.Properties{
		"skipped_upload":    result.SkippedUpload,
		"chunk_count":       result.UploadedChunks,
		"upload_size_bytes": result.TotalBytes,
		"upload_time_s":     result.UploadDuration.Truncate(time.Second).Seconds(),
	})
}

// Wait blocks until the queued events are sent.
func (t *StepTracker) Wait() {
	t.tracker.Wait()
}
