// Package alert forwards notifications raised inside managed accounts to
// the central topic watched by the operations team.
package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/sirupsen/logrus"
)

const messageTemplate = `You will find below a copy of the alert that has been sent automatically to the holder of account '%s':

----

%s`

const subjectTemplate = "Alert on account '%s'"

// SNSAPI is the subset of the notification service used by the relay.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Relay republishes queued alerts on the central topic.
type Relay struct {
	client   SNSAPI
	topicArn string
	logger   *logrus.Logger
}

func NewRelay(client SNSAPI, topicArn string, logger *logrus.Logger) *Relay {
	return &Relay{
		client:   client,
		topicArn: topicArn,
		logger:   logger,
	}
}

// HandleQueueEvent processes every record of one queue delivery.
func (r *Relay) HandleQueueEvent(ctx context.Context, event lambdaevents.SQSEvent) error {
	r.logger.Info("Receiving records from queue")
	for _, record := range event.Records {
		if err := r.HandleRecord(ctx, record); err != nil {
			return err
		}
	}
	return nil
}

// HandleRecord relays one queued record. Bodies that are topic
// notifications get reformatted with the originating account; anything
// else is forwarded as-is.
func (r *Relay) HandleRecord(ctx context.Context, record lambdaevents.SQSMessage) error {
	if record.EventSource != "aws:sqs" {
		return fmt.Errorf("unable to handle source '%s'", record.EventSource)
	}

	r.logger.Info("Processing one record")
	body := struct {
		TopicArn string `json:"TopicArn"`
		Message  string `json:"Message"`
	}{}
	if err := json.Unmarshal([]byte(record.Body), &body); err != nil || body.TopicArn == "" {
		return r.publish(ctx, record.Body, "Alert message")
	}

	account := accountOfTopic(body.TopicArn)
	message := fmt.Sprintf(messageTemplate, account, body.Message)
	subject := fmt.Sprintf(subjectTemplate, account)
	return r.publish(ctx, message, subject)
}

func (r *Relay) publish(ctx context.Context, message, subject string) error {
	r.logger.Infof("Publishing notification: %s", subject)
	_, err := r.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(r.topicArn),
		Message:  aws.String(message),
		Subject:  aws.String(subject),
	})
	if err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// accountOfTopic extracts the account identifier embedded in a topic ARN.
func accountOfTopic(arn string) string {
	parts := strings.Split(arn, ":")
	if len(parts) > 4 {
		return parts[4]
	}
	return ""
}
