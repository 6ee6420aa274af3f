package main

import (
	"context"
	"fmt"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssmincidents"
	"github.com/sirupsen/logrus"

	"github.com/geoffroyrenaud/sustainable-personal-accounts/internal/account"
	"github.com/geoffroyrenaud/sustainable-personal-accounts/internal/awsx"
	"github.com/geoffroyrenaud/sustainable-personal-accounts/internal/config"
	"github.com/geoffroyrenaud/sustainable-personal-accounts/internal/events"
	"github.com/geoffroyrenaud/sustainable-personal-accounts/internal/incident"
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
	managedcfg, err := awsx.Load(ctx, cfg.Accounts.RoleArn)
	if err != nil {
		logger.WithError(err).Fatal("failed to load managed aws configuration")
	}

	accounts := account.NewManager(organizations.NewFromConfig(managedcfg), logger, cfg.Accounts.Live())
	handler := incident.NewHandler(
		ssmincidents.NewFromConfig(awscfg),
		costexplorer.NewFromConfig(awscfg),
		s3.NewFromConfig(awscfg),
		ssm.NewFromConfig(awscfg),
		cloudwatch.NewFromConfig(awscfg),
		accounts,
		incident.HandlerSettings{
			ResponsePlanArn:       cfg.Incident.ResponsePlanArn,
			Bucket:                cfg.Reporting.Bucket,
			ExceptionsPrefix:      cfg.Reporting.ExceptionsPrefix,
			WebEndpointsParameter: cfg.Incident.WebEndpointsParameter,
			Environment:           cfg.Events.Environment,
		},
		logger,
	)

	lambda.Start(func(ctx context.Context, event lambdaevents.CloudWatchEvent) (string, error) {
		envelope, err := events.DecodeActivityEvent(event)
		if err != nil {
			return "", err
		}
		if err := handler.HandleException(ctx, envelope); err != nil {
			return "", err
		}
		return fmt.Sprintf("[OK] %s", envelope.Label), nil
	})
}
