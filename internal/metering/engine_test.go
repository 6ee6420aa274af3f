package metering

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoffroyrenaud/sustainable-personal-accounts/internal/events"
)

type fakeLedger struct {
	values map[string]map[string]any
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{values: map[string]map[string]any{}}
}

func (f *fakeLedger) Assign(ctx context.Context, key string, value map[string]any) error {
	if value == nil {
		delete(f.values, key)
		return nil
	}
	f.values[key] = value
	return nil
}

func (f *fakeLedger) Retrieve(ctx context.Context, key string) (map[string]any, error) {
	return f.values[key], nil
}

type emission struct {
	label   string
	payload map[string]any
}

type fakeEmitter struct {
	emitted []emission
}

func (f *fakeEmitter) Emit(ctx context.Context, label string, payload map[string]any) error {
	f.emitted = append(f.emitted, emission{label: label, payload: payload})
	return nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newTestEngine(ledger *fakeLedger, emitter *fakeEmitter) *Engine {
	engine := NewEngine(ledger, emitter, quietLogger())
	engine.newID = func() string { return "fixed-identifier" }
	return engine
}

func deliver(t *testing.T, engine *Engine, label, account string) {
	t.Helper()
	err := engine.HandleEvent(context.Background(), events.Envelope{Label: label, Account: account})
	require.NoError(t, err)
}

func TestCreatedAccountOpensOnBoardingTransaction(t *testing.T) {
	ledger := newFakeLedger()
	engine := newTestEngine(ledger, &fakeEmitter{})
	engine.now = func() time.Time { return time.Unix(1000, 0) }

	deliver(t, engine, events.CreatedAccount, "123456789012")

	transaction := ledger.values["OnBoarding 123456789012"]
	require.NotNil(t, transaction)
	assert.Equal(t, "123456789012", transaction["account"])
	assert.Equal(t, float64(1000), transaction["begin"])
	assert.Equal(t, "fixed-identifier", transaction["identifier"])
}

func TestExpiredAccountOpensMaintenanceTransaction(t *testing.T) {
	ledger := newFakeLedger()
	engine := newTestEngine(ledger, &fakeEmitter{})

	deliver(t, engine, events.ExpiredAccount, "123456789012")

	assert.NotNil(t, ledger.values["Maintenance 123456789012"])
	assert.Nil(t, ledger.values["OnBoarding 123456789012"])
}

func TestRedeliveredStartResetsBeginTimestamp(t *testing.T) {
	ledger := newFakeLedger()
	engine := newTestEngine(ledger, &fakeEmitter{})

	engine.now = func() time.Time { return time.Unix(1000, 0) }
	deliver(t, engine, events.CreatedAccount, "123456789012")
	engine.now = func() time.Time { return time.Unix(2000, 0) }
	deliver(t, engine, events.CreatedAccount, "123456789012")

	transaction := ledger.values["OnBoarding 123456789012"]
	assert.Equal(t, float64(2000), transaction["begin"])
}

func TestReleasedAccountClosesTransactionWithDuration(t *testing.T) {
	ledger := newFakeLedger()
	emitter := &fakeEmitter{}
	engine := newTestEngine(ledger, emitter)

	engine.now = func() time.Time { return time.Unix(1000, 0) }
	deliver(t, engine, events.CreatedAccount, "123456789012")
	engine.now = func() time.Time { return time.Unix(1450, 500000000) }
	deliver(t, engine, events.ReleasedAccount, "123456789012")

	require.Len(t, emitter.emitted, 1)
	completion := emitter.emitted[0]
	assert.Equal(t, events.SuccessfulOnBoardingEvent, completion.label)
	assert.Equal(t, "123456789012", completion.payload["account"])
	assert.Equal(t, float64(1000), completion.payload["begin"])
	assert.Equal(t, 1450.5, completion.payload["end"])
	assert.InDelta(t, 450.5, completion.payload["duration"], 1e-9)
	assert.Equal(t, "fixed-identifier", completion.payload["identifier"])

	// the ledger entry has been consumed
	assert.Nil(t, ledger.values["OnBoarding 123456789012"])
}

func TestReleasedAccountClosesBothKinds(t *testing.T) {
	ledger := newFakeLedger()
	emitter := &fakeEmitter{}
	engine := newTestEngine(ledger, emitter)

	deliver(t, engine, events.CreatedAccount, "123456789012")
	deliver(t, engine, events.ExpiredAccount, "123456789012")
	deliver(t, engine, events.ReleasedAccount, "123456789012")

	require.Len(t, emitter.emitted, 2)
	assert.Equal(t, events.SuccessfulMaintenanceEvent, emitter.emitted[0].label)
	assert.Equal(t, events.SuccessfulOnBoardingEvent, emitter.emitted[1].label)
}

func TestRedeliveredReleaseIsNoOp(t *testing.T) {
	ledger := newFakeLedger()
	emitter := &fakeEmitter{}
	engine := newTestEngine(ledger, emitter)

	deliver(t, engine, events.CreatedAccount, "123456789012")
	deliver(t, engine, events.ReleasedAccount, "123456789012")
	deliver(t, engine, events.ReleasedAccount, "123456789012")

	// exactly one completion event despite the duplicated delivery
	assert.Len(t, emitter.emitted, 1)
}

func TestReleaseWithNothingOpenIsSilentlySkipped(t *testing.T) {
	emitter := &fakeEmitter{}
	engine := newTestEngine(newFakeLedger(), emitter)

	deliver(t, engine, events.ReleasedAccount, "123456789012")

	assert.Empty(t, emitter.emitted)
}

func TestUnrecognizedLabelIsIgnored(t *testing.T) {
	ledger := newFakeLedger()
	emitter := &fakeEmitter{}
	engine := newTestEngine(ledger, emitter)

	deliver(t, engine, "PreparedAccount", "123456789012")

	assert.Empty(t, ledger.values)
	assert.Empty(t, emitter.emitted)
}
