package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/geoffroyrenaud/sustainable-personal-accounts/internal/awsx"
	"github.com/geoffroyrenaud/sustainable-personal-accounts/internal/config"
	"github.com/geoffroyrenaud/sustainable-personal-accounts/internal/ledger"
	"github.com/geoffroyrenaud/sustainable-personal-accounts/internal/log"
	"github.com/geoffroyrenaud/sustainable-personal-accounts/internal/reporting"
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

	store := ledger.New(dynamodb.NewFromConfig(awscfg), cfg.Ledger.RecordsTable, cfg.Ledger.RecordsTTL, logger)
	reporter := reporting.NewReporter(store, s3.NewFromConfig(awscfg), cfg.Reporting.Bucket, cfg.Reporting.ActivitiesPrefix, logger)

	lambda.Start(func(ctx context.Context) (string, error) {
		if err := reporter.RunMonthly(ctx); err != nil {
			return "", err
		}
		return "[OK]", nil
	})
}
