package main

import (
	"context"
	"fmt"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/sirupsen/logrus"

	"github.com/geoffroyrenaud/sustainable-personal-accounts/internal/account"
	"github.com/geoffroyrenaud/sustainable-personal-accounts/internal/analytics"
	"github.com/geoffroyrenaud/sustainable-personal-accounts/internal/awsx"
	"github.com/geoffroyrenaud/sustainable-personal-accounts/internal/config"
	"github.com/geoffroyrenaud/sustainable-personal-accounts/internal/events"
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
	managedcfg, err := awsx.Load(ctx, cfg.Accounts.RoleArn)
	if err != nil {
		logger.WithError(err).Fatal("failed to load managed aws configuration")
	}

	store := ledger.New(dynamodb.NewFromConfig(awscfg), cfg.Ledger.RecordsTable, cfg.Ledger.RecordsTTL, logger)
	accounts := account.NewManager(organizations.NewFromConfig(managedcfg), logger, cfg.Accounts.Live())

	var sink reporting.AnalyticsSink
	if cfg.Analytics.ProjectID != "" {
		client, err := analytics.New(ctx, cfg.Analytics.ProjectID, cfg.Analytics.Dataset, cfg.Analytics.Table)
		if err != nil {
			logger.WithError(err).Fatal("failed to build analytics client")
		}
		if err := client.CreateTableIfNotExists(ctx); err != nil {
			logger.WithError(err).Fatal("failed to create analytics table")
		}
		sink = client
	}

	recorder := reporting.NewRecorder(store, accounts, sink, logger)

	lambda.Start(func(ctx context.Context, event lambdaevents.CloudWatchEvent) (string, error) {
		envelope, err := events.DecodeActivityEvent(event)
		if err != nil {
			return "", err
		}
		if err := recorder.HandleActivityEvent(ctx, envelope); err != nil {
			return "", err
		}
		return fmt.Sprintf("[OK] %s", envelope.Label), nil
	})
}
