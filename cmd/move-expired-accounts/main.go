package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/sirupsen/logrus"

	"github.com/geoffroyrenaud/sustainable-personal-accounts/internal/account"
	"github.com/geoffroyrenaud/sustainable-personal-accounts/internal/awsx"
	"github.com/geoffroyrenaud/sustainable-personal-accounts/internal/config"
	"github.com/geoffroyrenaud/sustainable-personal-accounts/internal/log"
	"github.com/geoffroyrenaud/sustainable-personal-accounts/internal/maintenance"
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
	awscfg, err := awsx.Load(ctx, cfg.Accounts.RoleArn)
	if err != nil {
		logger.WithError(err).Fatal("failed to load aws configuration")
	}

	accounts := account.NewManager(organizations.NewFromConfig(awscfg), logger, cfg.Accounts.Live())
	scanner := maintenance.NewScanner(accounts, cfg.Accounts.OrganizationalUnits, logger)

	lambda.Start(func(ctx context.Context) (string, error) {
		if err := scanner.Run(ctx); err != nil {
			return "", err
		}
		return "[OK]", nil
	})
}
