package main

import (
	"context"
	"os"

	"github.com/bitrise-io/go-utils/v2/command"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/classify"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/step"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/stepconf"
)

func main() {
	os.Exit(run())
}

func run() int {
	logger := log.NewLogger()
	envRepo := env.NewRepository()
	portalUpload := step.NewPortalUploadStep(logger, stepconf.NewInputParser(envRepo), envRepo, command.NewFactory(envRepo))

	cfg, err := portalUpload.ProcessInputs()
	if err != nil {
		logger.Errorf(classify.Format(err))
		return 1
	}

	result, err := portalUpload.Run(context.Background(), cfg)
	if err != nil {
		logger.Errorf(classify.Format(err))
		return 1
	}

	if err := portalUpload.ExportOutputs(result); err != nil {
		logger.Errorf(err.Error())
		return 1
	}

	return 0
}
