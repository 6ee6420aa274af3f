package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/geoffroyrenaud/sustainable-personal-accounts/internal/attachment"
	"github.com/geoffroyrenaud/sustainable-personal-accounts/internal/awsx"
	"github.com/geoffroyrenaud/sustainable-personal-accounts/internal/config"
	"github.com/geoffroyrenaud/sustainable-personal-accounts/internal/log"
)

func main() {
	ctx := context.Background()

	cfg, err := config.New()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}
	logger, err := log.New(cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		logrus.WithError(err).Fatal("failed to build logger")
	}
	awscfg, err := awsx.Load(ctx, "")
	if err != nil {
		logger.WithError(err).Fatal("failed to load aws configuration")
	}

	proxy := attachment.NewProxy(s3.NewFromConfig(awscfg), cfg.Reporting.Bucket, cfg.Reporting.ExceptionsPrefix, logger)

	lambda.Start(proxy.HandleRequest)
}
