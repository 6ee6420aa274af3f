package main

import (
	"context"
	"fmt"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/sirupsen/logrus"

	"github.com/geoffroyrenaud/sustainable-personal-accounts/internal/awsx"
	"github.com/geoffroyrenaud/sustainable-personal-accounts/internal/config"
	"github.com/geoffroyrenaud/sustainable-personal-accounts/internal/events"
	"github.com/geoffroyrenaud/sustainable-personal-accounts/internal/ledger"
	"github.com/geoffroyrenaud/sustainable-personal-accounts/internal/log"
	"github.com/geoffroyrenaud/sustainable-personal-accounts/internal/metering"
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

	store := ledger.New(dynamodb.NewFromConfig(awscfg), cfg.Ledger.TransactionsTable, cfg.Ledger.RecordsTTL, logger)
	emitter := events.NewEmitter(eventbridge.NewFromConfig(awscfg), cfg.Events.Environment, logger)
	engine := metering.NewEngine(store, emitter, logger)

	lambda.Start(func(ctx context.Context, event lambdaevents.CloudWatchEvent) (string, error) {
		envelope, err := events.DecodeAccountEvent(event)
		if err != nil {
			return "", err
		}
		if err := engine.HandleEvent(ctx, envelope); err != nil {
			return "", err
		}
		return fmt.Sprintf("[OK] %s %s", envelope.Label, envelope.Account), nil
	})
}
