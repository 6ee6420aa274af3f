// Package awsx loads the AWS configuration shared by every handler,
// optionally pivoting through the role that manages account resources.
package awsx

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// Load returns the default AWS configuration. When roleArn is not empty,
// the returned configuration carries credentials obtained by assuming
// that role.
func Load(ctx context.Context, roleArn string) (aws.Config, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load aws configuration: %w", err)
	}
	if roleArn == "" {
		return cfg, nil
	}

	provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(cfg), roleArn)
	cfg.Credentials = aws.NewCredentialsCache(provider)
	return cfg, nil
}
