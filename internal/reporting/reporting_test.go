package reporting

import (
	"context"
	"io"
	"iter"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoffroyrenaud/sustainable-personal-accounts/internal/events"
	"github.com/geoffroyrenaud/sustainable-personal-accounts/internal/ledger"
)

type remembered struct {
	hash  string
	rng   string
	value map[string]any
}

type fakeRecordLedger struct {
	records []remembered
}

func (f *fakeRecordLedger) Remember(ctx context.Context, hash, rng string, value map[string]any) error {
	f.records = append(f.records, remembered{hash: hash, rng: rng, value: value})
	return nil
}

type fakeTagLister struct {
	tags map[string]string
}

func (f *fakeTagLister) ListTags(ctx context.Context, id string) (map[string]string, error) {
	return f.tags, nil
}

type fakeSink struct {
	inserted []map[string]any
}

func (f *fakeSink) InsertActivity(ctx context.Context, record map[string]any) error {
	f.inserted = append(f.inserted, record)
	return nil
}

type fakeSource struct {
	buckets map[string][]ledger.Record
}

func (f *fakeSource) Enumerate(ctx context.Context, hash string) iter.Seq2[ledger.Record, error] {
	return func(yield func(ledger.Record, error) bool) {
		for _, record := range f.buckets[hash] {
			if !yield(record, nil) {
				return
			}
		}
	}
}

type fakeObjectStore struct {
	objects map[string]string
}

func (f *fakeObjectStore) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.objects == nil {
		f.objects = map[string]string{}
	}
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(params.Key)] = string(body)
	return &s3.PutObjectOutput{}, nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestRecorderStampsAndEnriches(t *testing.T) {
	store := &fakeRecordLedger{}
	sink := &fakeSink{}
	recorder := NewRecorder(store, &fakeTagLister{tags: map[string]string{"cost-center": "research"}}, sink, quietLogger())
	recorder.now = func() time.Time { return time.Date(2026, 8, 15, 9, 30, 0, 0, time.UTC) }

	err := recorder.HandleActivityEvent(context.Background(), events.Envelope{
		Label:   events.SuccessfulOnBoardingEvent,
		Account: "123456789012",
		Payload: map[string]any{"begin": 1000.0, "end": 1450.5, "duration": 450.5, "identifier": "abc"},
	})
	require.NoError(t, err)

	require.Len(t, store.records, 1)
	record := store.records[0]
	assert.Equal(t, "2026-08-15", record.hash)
	assert.Equal(t, "09:30:00.000000", record.rng)
	assert.Equal(t, "123456789012", record.value["account"])
	assert.Equal(t, "on-boarding", record.value["transaction"])
	assert.Equal(t, "research", record.value["cost-center"])
	assert.Equal(t, "2026-08-15T09:30:00.000000", record.value["stamp"])
	assert.Equal(t, 450.5, record.value["duration"])

	// the analytics export receives the same enriched record
	require.Len(t, sink.inserted, 1)
	assert.Equal(t, "research", sink.inserted[0]["cost-center"])
}

func TestRecorderMapsMaintenanceLabel(t *testing.T) {
	store := &fakeRecordLedger{}
	recorder := NewRecorder(store, &fakeTagLister{}, nil, quietLogger())

	err := recorder.HandleActivityEvent(context.Background(), events.Envelope{
		Label:   events.SuccessfulMaintenanceEvent,
		Account: "123456789012",
		Payload: map[string]any{},
	})
	require.NoError(t, err)
	require.Len(t, store.records, 1)
	assert.Equal(t, "maintenance", store.records[0].value["transaction"])
}

func TestRecorderIgnoresOtherLabels(t *testing.T) {
	store := &fakeRecordLedger{}
	recorder := NewRecorder(store, &fakeTagLister{}, nil, quietLogger())

	err := recorder.HandleActivityEvent(context.Background(), events.Envelope{
		Label:   "GenericException",
		Account: "123456789012",
	})
	require.NoError(t, err)
	assert.Empty(t, store.records)
}

func TestHashesCoverMonthThroughDay(t *testing.T) {
	reporter := NewReporter(&fakeSource{}, &fakeObjectStore{}, "bucket", "SpaReports", quietLogger())

	hashes := reporter.Hashes(time.Date(2026, 8, 5, 10, 0, 0, 0, time.UTC))
	assert.Equal(t, []string{"2026-08-01", "2026-08-02", "2026-08-03", "2026-08-04", "2026-08-05"}, hashes)
}

func record(costCenter, identifier string) ledger.Record {
	return ledger.Record{Value: map[string]any{
		"cost-center": costCenter,
		"transaction": "on-boarding",
		"stamp":       "2026-08-01T10:00:00.000000",
		"account":     "123456789012",
		"identifier":  identifier,
		"duration":    450.5,
	}}
}

func TestBuildReportsGroupsByCostCenter(t *testing.T) {
	source := &fakeSource{buckets: map[string][]ledger.Record{
		"2026-08-01": {record("alpha", "a1"), record("beta", "b1")},
		"2026-08-03": {record("alpha", "a2")},
		"2026-08-05": {record("gamma", "g1"), record("alpha", "a3")},
	}}
	reporter := NewReporter(source, &fakeObjectStore{}, "bucket", "SpaReports", quietLogger())

	day := time.Date(2026, 8, 5, 10, 0, 0, 0, time.UTC)
	reports, err := reporter.BuildReports(reporter.Records(context.Background(), day))
	require.NoError(t, err)

	// exactly one report per cost center found in the window
	require.Len(t, reports, 3)

	alpha := strings.Split(strings.TrimSpace(reports["alpha"]), "\n")
	require.Len(t, alpha, 4)
	assert.Equal(t, "Cost Center,Transaction,Stamp,Account,Identifier,Duration", alpha[0])
	assert.Contains(t, alpha[1], "a1")
	assert.Contains(t, alpha[2], "a2")
	assert.Contains(t, alpha[3], "a3")
	assert.Contains(t, alpha[1], "450.5")

	beta := strings.Split(strings.TrimSpace(reports["beta"]), "\n")
	require.Len(t, beta, 2)
	assert.Equal(t, "beta,on-boarding,2026-08-01T10:00:00.000000,123456789012,b1,450.5", beta[1])
}

func TestBuildReportsRejectsRecordWithoutCostCenter(t *testing.T) {
	source := &fakeSource{buckets: map[string][]ledger.Record{
		"2026-08-01": {{Value: map[string]any{"identifier": "a1"}}},
	}}
	reporter := NewReporter(source, &fakeObjectStore{}, "bucket", "SpaReports", quietLogger())

	day := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	_, err := reporter.BuildReports(reporter.Records(context.Background(), day))
	assert.Error(t, err)
}

func TestStoreReportWritesOneObjectPerCostCenter(t *testing.T) {
	store := &fakeObjectStore{}
	reporter := NewReporter(&fakeSource{}, store, "bucket", "SpaReports", quietLogger())
	reporter.today = func() time.Time { return time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC) }

	require.NoError(t, reporter.StoreReport(context.Background(), "alpha", "header\nrow\n"))

	body, ok := store.objects["SpaReports/alpha/2026-08-alpha-activities.csv"]
	require.True(t, ok)
	assert.Equal(t, "header\nrow\n", body)
}

func TestRunDailyProducesArtifacts(t *testing.T) {
	source := &fakeSource{buckets: map[string][]ledger.Record{
		"2026-08-01": {record("alpha", "a1")},
		"2026-08-02": {record("beta", "b1")},
	}}
	store := &fakeObjectStore{}
	reporter := NewReporter(source, store, "bucket", "SpaReports", quietLogger())
	reporter.today = func() time.Time { return time.Date(2026, 8, 2, 8, 0, 0, 0, time.UTC) }

	require.NoError(t, reporter.RunDaily(context.Background()))
	assert.Len(t, store.objects, 2)
}

func TestRunMonthlyScansPreviousMonth(t *testing.T) {
	source := &fakeSource{buckets: map[string][]ledger.Record{
		"2026-07-31": {record("alpha", "a1")},
	}}
	store := &fakeObjectStore{}
	reporter := NewReporter(source, store, "bucket", "SpaReports", quietLogger())
	reporter.today = func() time.Time { return time.Date(2026, 8, 1, 1, 0, 0, 0, time.UTC) }

	require.NoError(t, reporter.RunMonthly(context.Background()))
	require.Len(t, store.objects, 1)
	_, ok := store.objects["SpaReports/alpha/2026-08-alpha-activities.csv"]
	assert.True(t, ok)
}
