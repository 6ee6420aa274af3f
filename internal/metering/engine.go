// Package metering turns lifecycle events into timed transactions, one
// open episode per kind and account.
package metering

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/geoffroyrenaud/sustainable-personal-accounts/internal/events"
)

// Kind distinguishes the two metered episodes of an account lifecycle.
type Kind string

const (
	KindOnBoarding  Kind = "OnBoarding"
	KindMaintenance Kind = "Maintenance"
)

// Key is the ledger key of the open transaction of this kind for one
// account.
func (k Kind) Key(account string) string {
	return fmt.Sprintf("%s %s", k, account)
}

// Label is the event emitted when a transaction of this kind closes.
func (k Kind) Label() string {
	if k == KindMaintenance {
		return events.SuccessfulMaintenanceEvent
	}
	return events.SuccessfulOnBoardingEvent
}

// Ledger is the slice of the store the engine needs. Assign with a nil
// value deletes the key.
type Ledger interface {
	Assign(ctx context.Context, key string, value map[string]any) error
	Retrieve(ctx context.Context, key string) (map[string]any, error)
}

// Emitter publishes completion events.
type Emitter interface {
	Emit(ctx context.Context, label string, payload map[string]any) error
}

// Engine opens a transaction on a starting event and closes it, with a
// computed duration, on the terminating event.
type Engine struct {
	ledger  Ledger
	emitter Emitter
	logger  *logrus.Logger
	now     func() time.Time
	newID   func() string
}

func NewEngine(ledger Ledger, emitter Emitter, logger *logrus.Logger) *Engine {
	return &Engine{
		ledger:  ledger,
		emitter: emitter,
		logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// HandleEvent routes one lifecycle event. Unrecognized labels are logged
// and ignored so that new event types do not break this handler.
func (e *Engine) HandleEvent(ctx context.Context, envelope events.Envelope) error {
	switch envelope.Label {
	case events.CreatedAccount:
		return e.open(ctx, KindOnBoarding, envelope.Account)
	case events.ExpiredAccount:
		return e.open(ctx, KindMaintenance, envelope.Account)
	case events.ReleasedAccount:
		if err := e.close(ctx, KindMaintenance, envelope.Account); err != nil {
			return err
		}
		return e.close(ctx, KindOnBoarding, envelope.Account)
	default:
		e.logger.Debugf("Do not handle event '%s'", envelope.Label)
		return nil
	}
}

// open writes a fresh transaction, overwriting any prior open transaction
// of the same kind for the account. Redelivery of a starting event resets
// the begin timestamp; this asymmetry with the close path is deliberate.
func (e *Engine) open(ctx context.Context, kind Kind, account string) error {
	key := kind.Key(account)
	e.logger.Infof("Starting transaction '%s'", key)
	transaction := map[string]any{
		"account":    account,
		"begin":      epoch(e.now()),
		"identifier": e.newID(),
	}
	return e.ledger.Assign(ctx, key, transaction)
}

// close consumes the open transaction of this kind, if any, computes its
// duration and emits the completion event. The delete happens before the
// emission: a redelivered terminating event finds nothing to close, which
// keeps the close path idempotent under at-least-once delivery.
func (e *Engine) close(ctx context.Context, kind Kind, account string) error {
	key := kind.Key(account)
	transaction, err := e.ledger.Retrieve(ctx, key)
	if err != nil {
		return err
	}
	if transaction == nil {
		return nil
	}

	e.logger.Infof("Updating transaction '%s'", key)
	if err := e.ledger.Assign(ctx, key, nil); err != nil {
		return err
	}

	begin, ok := transaction["begin"].(float64)
	if !ok {
		return fmt.Errorf("failed to close transaction '%s': no begin timestamp", key)
	}
	end := epoch(e.now())
	transaction["account"] = account
	transaction["end"] = end
	transaction["duration"] = end - begin
	return e.emitter.Emit(ctx, kind.Label(), transaction)
}

// epoch is the ledger's timestamp representation, seconds since the Unix
// epoch with sub-second precision.
func epoch(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
