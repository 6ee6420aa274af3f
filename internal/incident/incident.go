// Package incident opens an incident record for every exception raised by
// the system and attaches a cost-and-usage report for the account
// involved.
package incident

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	cetypes "github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssmincidents"
	imtypes "github.com/aws/aws-sdk-go-v2/service/ssmincidents/types"
	"github.com/sirupsen/logrus"

	"github.com/geoffroyrenaud/sustainable-personal-accounts/internal/account"
	"github.com/geoffroyrenaud/sustainable-personal-accounts/internal/events"
)

// markdown is supported in incident summaries
const summaryTemplate = "# %s\n\n%s"

const attachmentEndpointKey = "OnException.DownloadAttachment.WebEndpoint"

// IncidentsAPI is the subset of the incident service used here.
type IncidentsAPI interface {
	StartIncident(ctx context.Context, params *ssmincidents.StartIncidentInput, optFns ...func(*ssmincidents.Options)) (*ssmincidents.StartIncidentOutput, error)
	UpdateIncidentRecord(ctx context.Context, params *ssmincidents.UpdateIncidentRecordInput, optFns ...func(*ssmincidents.Options)) (*ssmincidents.UpdateIncidentRecordOutput, error)
	TagResource(ctx context.Context, params *ssmincidents.TagResourceInput, optFns ...func(*ssmincidents.Options)) (*ssmincidents.TagResourceOutput, error)
	UpdateRelatedItems(ctx context.Context, params *ssmincidents.UpdateRelatedItemsInput, optFns ...func(*ssmincidents.Options)) (*ssmincidents.UpdateRelatedItemsOutput, error)
}

// CostsAPI fetches cost and usage figures.
type CostsAPI interface {
	GetCostAndUsage(ctx context.Context, params *costexplorer.GetCostAndUsageInput, optFns ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageOutput, error)
}

// S3API stores the produced attachments.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ParametersAPI resolves the public web endpoints.
type ParametersAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// MetricsAPI counts handled exceptions.
type MetricsAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Accounts describes the account named in an exception.
type Accounts interface {
	Describe(ctx context.Context, id string) (account.Item, error)
}

// Handler runs the exception flow: start an incident, tag it with account
// attributes, attach a cost-and-usage report, count the exception.
type Handler struct {
	incidents       IncidentsAPI
	costs           CostsAPI
	store           S3API
	parameters      ParametersAPI
	metrics         MetricsAPI
	accounts        Accounts
	responsePlanArn string
	bucket          string
	prefix          string
	endpointsParam  string
	environment     string
	logger          *logrus.Logger
	today           func() time.Time
}

type HandlerSettings struct {
	ResponsePlanArn       string
	Bucket                string
	ExceptionsPrefix      string
	WebEndpointsParameter string
	Environment           string
}

func NewHandler(incidents IncidentsAPI, costs CostsAPI, store S3API, parameters ParametersAPI, metrics MetricsAPI, accounts Accounts, settings HandlerSettings, logger *logrus.Logger) *Handler {
	return &Handler{
		incidents:       incidents,
		costs:           costs,
		store:           store,
		parameters:      parameters,
		metrics:         metrics,
		accounts:        accounts,
		responsePlanArn: settings.ResponsePlanArn,
		bucket:          settings.Bucket,
		prefix:          settings.ExceptionsPrefix,
		endpointsParam:  settings.WebEndpointsParameter,
		environment:     settings.Environment,
		logger:          logger,
		today:           time.Now,
	}
}

// HandleException runs the full flow for one exception event.
func (h *Handler) HandleException(ctx context.Context, envelope events.Envelope) error {
	incidentArn, err := h.StartIncident(ctx, envelope.Label, envelope.Payload)
	if err != nil {
		return err
	}
	h.TagIncident(ctx, incidentArn, envelope.Account)
	h.AttachCostReport(ctx, incidentArn, envelope.Account)
	h.countException(ctx, envelope.Label)
	return nil
}

// StartIncident opens the incident record and fills its summary.
func (h *Handler) StartIncident(ctx context.Context, label string, payload map[string]any) (string, error) {
	h.logger.Infof("Starting incident '%v'", payload)
	title := textOrDefault(payload["title"], "*no title*")
	out, err := h.incidents.StartIncident(ctx, &ssmincidents.StartIncidentInput{
		Title:           aws.String(title),
		Impact:          aws.Int32(impactOf(payload)),
		ResponsePlanArn: aws.String(h.responsePlanArn),
	})
	if err != nil {
		return "", fmt.Errorf("failed to start incident: %w", err)
	}
	incidentArn := aws.ToString(out.IncidentRecordArn)

	message := textOrDefault(payload["message"], "*no message*")
	summary := strings.ReplaceAll(fmt.Sprintf(summaryTemplate, title, message), "\n", "  \n") // force newlines in markdown
	if _, err := h.incidents.UpdateIncidentRecord(ctx, &ssmincidents.UpdateIncidentRecordInput{
		Arn:     aws.String(incidentArn),
		Summary: aws.String(summary),
	}); err != nil {
		return "", fmt.Errorf("failed to update incident record: %w", err)
	}
	if _, err := h.incidents.TagResource(ctx, &ssmincidents.TagResourceInput{
		ResourceArn: aws.String(incidentArn),
		Tags:        map[string]string{"exception": label},
	}); err != nil {
		return "", fmt.Errorf("failed to tag incident record: %w", err)
	}
	return incidentArn, nil
}

// TagIncident adds account attributes to the incident record. Failures
// here only degrade the record and are not fatal.
func (h *Handler) TagIncident(ctx context.Context, incidentArn, id string) {
	if id == "" {
		h.logger.Debug("No account identifier in payload")
		return
	}

	h.logger.Info("Tagging incident report with account information")
	item, err := h.accounts.Describe(ctx, id)
	if err != nil {
		h.logger.WithError(err).Error("Unable to describe account")
		return
	}
	_, err = h.incidents.TagResource(ctx, &ssmincidents.TagResourceInput{
		ResourceArn: aws.String(incidentArn),
		Tags: map[string]string{
			"account":             id,
			"account-email":       item.Email,
			"account-name":        item.Name,
			"cost-center":         account.CostCenter(item.Tags),
			"organizational-unit": item.Unit,
		},
	})
	if err != nil {
		h.logger.WithError(err).Error("Unable to tag incident record")
	}
}

// AttachCostReport builds a cost-and-usage CSV for the account, stores it
// and links it to the incident record. Best-effort, like TagIncident.
func (h *Handler) AttachCostReport(ctx context.Context, incidentArn, id string) {
	if id == "" {
		h.logger.Debug("No account identifier in payload")
		return
	}

	h.logger.Info("Attaching cost and usage report to incident report")
	costs, err := h.getCostAndUsage(ctx, id)
	if err != nil {
		h.logger.WithError(err).Error("Unable to get cost and usage information")
		return
	}
	report, err := buildCostReport(costs)
	if err != nil {
		h.logger.WithError(err).Error("Unable to build cost and usage report")
		return
	}

	path := h.ReportKey(id)
	h.logger.Info("Storing report on S3 bucket...")
	if _, err := h.store.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(path),
		Body:   strings.NewReader(report),
	}); err != nil {
		h.logger.WithError(err).Error("Unable to store cost and usage report")
		return
	}

	url, err := h.reportURL(ctx, path)
	if err != nil {
		h.logger.WithError(err).Error("Unable to build report URL")
		return
	}
	h.logger.Infof("Attaching URL '%s' to incident record...", url)
	_, err = h.incidents.UpdateRelatedItems(ctx, &ssmincidents.UpdateRelatedItemsInput{
		IncidentRecordArn: aws.String(incidentArn),
		RelatedItemsUpdate: &imtypes.RelatedItemsUpdateMemberItemToAdd{
			Value: imtypes.RelatedItem{
				Title: aws.String("Cost and Usage Report"),
				Identifier: &imtypes.ItemIdentifier{
					Type:  imtypes.ItemTypeAttachment,
					Value: &imtypes.ItemValueMemberUrl{Value: url},
				},
			},
		},
	})
	if err != nil {
		h.logger.WithError(err).Error("Unable to attach report to incident record")
	}
}

func (h *Handler) getCostAndUsage(ctx context.Context, id string) (*costexplorer.GetCostAndUsageOutput, error) {
	h.logger.Infof("Retrieving cost and usage information for account '%s'...", id)
	day := h.today().UTC()
	start := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
	return h.costs.GetCostAndUsage(ctx, &costexplorer.GetCostAndUsageInput{
		TimePeriod: &cetypes.DateInterval{
			Start: aws.String(start.Format("2006-01-02")),
			End:   aws.String(day.Format("2006-01-02")),
		},
		Granularity: cetypes.GranularityMonthly,
		Metrics:     []string{"UnblendedCost"},
		Filter: &cetypes.Expression{
			Dimensions: &cetypes.DimensionValues{
				Key:    cetypes.DimensionLinkedAccount,
				Values: []string{id},
			},
		},
		GroupBy: []cetypes.GroupDefinition{
			{Type: cetypes.GroupDefinitionTypeDimension, Key: aws.String("SERVICE")},
		},
	})
}

// buildCostReport flattens cost and usage results into a CSV document.
func buildCostReport(costs *costexplorer.GetCostAndUsageOutput) (string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	if err := writer.Write([]string{"Start", "End", "Service", "Amount (USD)"}); err != nil {
		return "", err
	}
	for _, result := range costs.ResultsByTime {
		for _, group := range result.Groups {
			service := ""
			if len(group.Keys) > 0 {
				service = group.Keys[0]
			}
			amount := ""
			if metric, ok := group.Metrics["UnblendedCost"]; ok {
				amount = aws.ToString(metric.Amount)
			}
			row := []string{
				aws.ToString(result.TimePeriod.Start),
				aws.ToString(result.TimePeriod.End),
				service,
				amount,
			}
			if err := writer.Write(row); err != nil {
				return "", err
			}
		}
	}
	writer.Flush()
	return buffer.String(), writer.Error()
}

// ReportKey is the object key of the cost-and-usage attachment of one
// account, stamped with the month of the run.
func (h *Handler) ReportKey(label string) string {
	day := h.today().UTC()
	return strings.Join([]string{
		h.prefix,
		label,
		fmt.Sprintf("%04d-%02d-%s-cost-and-usage.csv", day.Year(), day.Month(), label),
	}, "/")
}

// reportURL maps an object key to the public attachment endpoint.
func (h *Handler) reportURL(ctx context.Context, path string) (string, error) {
	out, err := h.parameters.GetParameter(ctx, &ssm.GetParameterInput{
		Name: aws.String(h.endpointsParam),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get web endpoints parameter: %w", err)
	}
	endpoints := map[string]string{}
	if err := json.Unmarshal([]byte(aws.ToString(out.Parameter.Value)), &endpoints); err != nil {
		return "", fmt.Errorf("failed to decode web endpoints parameter: %w", err)
	}
	endpoint := endpoints[attachmentEndpointKey]

	path = strings.TrimPrefix(path, h.prefix+"/")
	return strings.TrimSuffix(endpoint, "/") + "/" + path, nil
}

func (h *Handler) countException(ctx context.Context, label string) {
	_, err := h.metrics.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String("SustainablePersonalAccounts"),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String("ExceptionsByLabel"),
				Value:      aws.Float64(1),
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String("Label"), Value: aws.String(label)},
					{Name: aws.String("Environment"), Value: aws.String(h.environment)},
				},
			},
		},
	})
	if err != nil {
		h.logger.WithError(err).Error("Unable to put metric data")
	}
}

func textOrDefault(value any, fallback string) string {
	if typed, ok := value.(string); ok && typed != "" {
		return typed
	}
	return fallback
}

func impactOf(payload map[string]any) int32 {
	switch typed := payload["impact"].(type) {
	case float64:
		return int32(typed)
	case string:
		var impact int32
		if _, err := fmt.Sscanf(typed, "%d", &impact); err == nil {
			return impact
		}
	}
	return 4
}
