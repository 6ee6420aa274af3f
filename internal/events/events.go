// Package events decodes inbound lifecycle events and emits outbound
// activity events on the central bus.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/sirupsen/logrus"
)

// Source identifies this system on the event bus.
const Source = "SustainablePersonalAccounts"

// Labels of inbound lifecycle events.
const (
	CreatedAccount  = "CreatedAccount"
	ExpiredAccount  = "ExpiredAccount"
	ReleasedAccount = "ReleasedAccount"
)

// Labels of outbound activity events.
const (
	SuccessfulOnBoardingEvent  = "SuccessfulOnBoardingEvent"
	SuccessfulMaintenanceEvent = "SuccessfulMaintenanceEvent"
)

// ErrMalformedEvent reports an event that cannot be decoded.
var ErrMalformedEvent = errors.New("malformed event")

// Envelope is the typed view of one event: the label from the detail
// type, the subject account, and the raw detail payload.
type Envelope struct {
	Label   string
	Account string
	Payload map[string]any
}

// DecodeAccountEvent decodes a lifecycle event. The detail must carry the
// subject account identifier.
func DecodeAccountEvent(event lambdaevents.CloudWatchEvent) (Envelope, error) {
	envelope, err := DecodeActivityEvent(event)
	if err != nil {
		return Envelope{}, err
	}
	if envelope.Account == "" {
		return Envelope{}, fmt.Errorf("%w: no account in event '%s'", ErrMalformedEvent, event.DetailType)
	}
	return envelope, nil
}

// DecodeActivityEvent decodes any event emitted by this system. The
// account is optional.
func DecodeActivityEvent(event lambdaevents.CloudWatchEvent) (Envelope, error) {
	payload := map[string]any{}
	if len(event.Detail) > 0 {
		if err := json.Unmarshal(event.Detail, &payload); err != nil {
			return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
	}
	envelope := Envelope{
		Label:   event.DetailType,
		Payload: payload,
	}
	if account, ok := payload["account"].(string); ok {
		envelope.Account = account
	}
	return envelope, nil
}

// EventBridgeAPI is the subset of the bus service used by the emitter.
type EventBridgeAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// Emitter publishes activity events.
type Emitter struct {
	client      EventBridgeAPI
	environment string
	logger      *logrus.Logger
}

func NewEmitter(client EventBridgeAPI, environment string, logger *logrus.Logger) *Emitter {
	return &Emitter{
		client:      client,
		environment: environment,
		logger:      logger,
	}
}

// Emit publishes one event. The payload becomes the event detail; the
// deployment label rides along under 'environment'.
func (e *Emitter) Emit(ctx context.Context, label string, payload map[string]any) error {
	detail := map[string]any{"environment": e.environment}
	for key, value := range payload {
		detail[key] = value
	}
	text, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("failed to encode event '%s': %w", label, err)
	}

	e.logger.Infof("Emitting event '%s'", label)
	out, err := e.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []ebtypes.PutEventsRequestEntry{
			{
				Source:     aws.String(Source),
				DetailType: aws.String(label),
				Detail:     aws.String(string(text)),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to emit event '%s': %w", label, err)
	}
	if out.FailedEntryCount > 0 {
		return fmt.Errorf("failed to emit event '%s': %d entries rejected", label, out.FailedEntryCount)
	}
	return nil
}
