// Package reporting keeps long-lived activity records and turns them into
// per-cost-center CSV reports.
package reporting

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/geoffroyrenaud/sustainable-personal-accounts/internal/account"
	"github.com/geoffroyrenaud/sustainable-personal-accounts/internal/events"
)

// stampLayout is the timestamp written on every record. The first ten
// characters are the date bucket, the remainder the order key.
const stampLayout = "2006-01-02T15:04:05.000000"

// RecordLedger is the wide-table side of the ledger.
type RecordLedger interface {
	Remember(ctx context.Context, hash, rng string, value map[string]any) error
}

// TagLister fetches the tags of one account, for cost attribution.
type TagLister interface {
	ListTags(ctx context.Context, id string) (map[string]string, error)
}

// AnalyticsSink receives a copy of every record, for warehouse queries.
type AnalyticsSink interface {
	InsertActivity(ctx context.Context, record map[string]any) error
}

// Recorder persists completed transactions. It is the single place where
// the account and its cost-center tag are joined onto the payload.
type Recorder struct {
	ledger    RecordLedger
	tags      TagLister
	analytics AnalyticsSink
	logger    *logrus.Logger
	now       func() time.Time
}

// NewRecorder wires a recorder. analytics may be nil when no warehouse
// export is configured.
func NewRecorder(ledger RecordLedger, tags TagLister, analytics AnalyticsSink, logger *logrus.Logger) *Recorder {
	return &Recorder{
		ledger:    ledger,
		tags:      tags,
		analytics: analytics,
		logger:    logger,
		now:       time.Now,
	}
}

// HandleActivityEvent remembers one completed transaction under the
// current date bucket.
func (r *Recorder) HandleActivityEvent(ctx context.Context, envelope events.Envelope) error {
	var transaction string
	switch envelope.Label {
	case events.SuccessfulOnBoardingEvent:
		transaction = "on-boarding"
	case events.SuccessfulMaintenanceEvent:
		transaction = "maintenance"
	default:
		r.logger.Debugf("Do not record event '%s'", envelope.Label)
		return nil
	}

	r.logger.Infof("Remembering %s", envelope.Label)
	stamp := r.now().UTC().Format(stampLayout)

	payload := map[string]any{}
	for key, value := range envelope.Payload {
		payload[key] = value
	}
	payload["account"] = envelope.Account
	payload["transaction"] = transaction
	payload["stamp"] = stamp

	tags, err := r.tags.ListTags(ctx, envelope.Account)
	if err != nil {
		return err
	}
	payload["cost-center"] = account.CostCenter(tags)

	if err := r.ledger.Remember(ctx, stamp[:10], stamp[11:], payload); err != nil {
		return err
	}

	if r.analytics != nil {
		if err := r.analytics.InsertActivity(ctx, payload); err != nil {
			// the durable copy is already in the ledger; the warehouse
			// export is best-effort
			r.logger.WithError(err).Warn("failed to export record to analytics")
		}
	}
	return nil
}
