package reporting

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/geoffroyrenaud/sustainable-personal-accounts/internal/ledger"
)

// columns is the fixed CSV layout of activity reports.
var columns = []string{"Cost Center", "Transaction", "Stamp", "Account", "Identifier", "Duration"}

// RecordSource enumerates the stored records of one date bucket.
type RecordSource interface {
	Enumerate(ctx context.Context, hash string) iter.Seq2[ledger.Record, error]
}

// S3API is the subset of the object service used to store reports.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Reporter scans the ledger over a bounded window and produces one CSV
// object per cost center.
type Reporter struct {
	source RecordSource
	store  S3API
	bucket string
	prefix string
	logger *logrus.Logger
	today  func() time.Time
}

func NewReporter(source RecordSource, store S3API, bucket, prefix string, logger *logrus.Logger) *Reporter {
	return &Reporter{
		source: source,
		store:  store,
		bucket: bucket,
		prefix: prefix,
		logger: logger,
		today:  time.Now,
	}
}

// RunDaily reports on the current month, day one through today.
func (r *Reporter) RunDaily(ctx context.Context) error {
	r.logger.Info("Producing ongoing activity reports")
	return r.run(ctx, r.today().UTC())
}

// RunMonthly reports on the full previous month.
func (r *Reporter) RunMonthly(ctx context.Context) error {
	r.logger.Info("Producing activity reports for previous month")
	day := r.today().UTC()
	lastOfPreviousMonth := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	return r.run(ctx, lastOfPreviousMonth)
}

func (r *Reporter) run(ctx context.Context, day time.Time) error {
	reports, err := r.BuildReports(r.Records(ctx, day)) // memory-bound, windows stay under 31 days
	if err != nil {
		return err
	}
	for label, report := range reports {
		if err := r.StoreReport(ctx, label, report); err != nil {
			return err
		}
	}
	return nil
}

// Hashes lists the date buckets of the window ending on day: the first of
// its month through day itself.
func (r *Reporter) Hashes(day time.Time) []string {
	hashes := make([]string, 0, day.Day())
	for x := 1; x <= day.Day(); x++ {
		hashes = append(hashes, time.Date(day.Year(), day.Month(), x, 0, 0, 0, 0, time.UTC).Format("2006-01-02"))
	}
	return hashes
}

// Records concatenates the enumeration of every bucket of the window, in
// bucket order then order-key order.
func (r *Reporter) Records(ctx context.Context, day time.Time) iter.Seq2[map[string]any, error] {
	return func(yield func(map[string]any, error) bool) {
		for _, hash := range r.Hashes(day) {
			for record, err := range r.source.Enumerate(ctx, hash) {
				if err != nil {
					yield(nil, err)
					return
				}
				if !yield(record.Value, nil) {
					return
				}
			}
		}
	}
}

// BuildReports groups records by cost center in a single pass. Each value
// is a complete CSV document, header row first.
func (r *Reporter) BuildReports(records iter.Seq2[map[string]any, error]) (map[string]string, error) {
	r.logger.Info("Building activity reports for each cost center")
	buffers := map[string]*bytes.Buffer{}
	writers := map[string]*csv.Writer{}
	for record, err := range records {
		if err != nil {
			return nil, err
		}
		label := text(record["cost-center"])
		if label == "" {
			return nil, fmt.Errorf("failed to build report: record without cost center: %v", record)
		}
		writer, ok := writers[label]
		if !ok {
			buffer := &bytes.Buffer{}
			writer = csv.NewWriter(buffer)
			if err := writer.Write(columns); err != nil {
				return nil, err
			}
			buffers[label] = buffer
			writers[label] = writer
		}
		row := []string{
			label,
			text(record["transaction"]),
			text(record["stamp"]),
			text(record["account"]),
			text(record["identifier"]),
			text(record["duration"]),
		}
		if err := writer.Write(row); err != nil {
			return nil, err
		}
	}

	reports := map[string]string{}
	for label, writer := range writers {
		writer.Flush()
		if err := writer.Error(); err != nil {
			return nil, err
		}
		reports[label] = buffers[label].String()
	}
	return reports, nil
}

// StoreReport writes one report object, replacing any previous run of the
// same day.
func (r *Reporter) StoreReport(ctx context.Context, label, report string) error {
	r.logger.Info("Storing activity report")
	r.logger.Debug(report)
	_, err := r.store.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.ReportKey(label)),
		Body:   strings.NewReader(report),
	})
	if err != nil {
		return fmt.Errorf("failed to store report for '%s': %w", label, err)
	}
	return nil
}

// ReportKey is the object key of the report of one cost center, stamped
// with the month of the run.
func (r *Reporter) ReportKey(label string) string {
	day := r.today().UTC()
	return strings.Join([]string{
		r.prefix,
		label,
		fmt.Sprintf("%04d-%02d-%s-activities.csv", day.Year(), day.Month(), label),
	}, "/")
}

// text renders a stored JSON value for one CSV cell.
func text(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", typed)
	}
}
