package config

import (
	"github.com/kelseyhightower/envconfig"
)

// Log configuration
type Log struct {
	// Format customizes the log output. Can be "text" or "json".
	Format string `envconfig:"LOG_FORMAT" default:"text"`

	// Level is the minimum level that gets emitted.
	Level string `envconfig:"LOG_LEVEL" default:"INFO"`
}

// Accounts configuration drives the interaction with the organization
// service that owns the account resources.
type Accounts struct {
	// RoleArn is assumed before any tag or account operation. When empty,
	// the default credentials of the execution role are used directly.
	RoleArn string `envconfig:"ROLE_ARN_TO_MANAGE_ACCOUNTS" default:""`

	// OrganizationalUnits lists the unit identifiers under management.
	OrganizationalUnits []string `envconfig:"ORGANIZATIONAL_UNITS" default:""`

	// DryRun gates tag mutations. The literal "FALSE" enables live
	// mutation; any other value turns mutations into log statements.
	DryRun string `envconfig:"DRY_RUN" default:"TRUE"`
}

// Live reports whether tag mutations should actually be performed.
func (a Accounts) Live() bool {
	return a.DryRun == "FALSE"
}

// Ledger configuration names the key-value tables and their retention.
type Ledger struct {
	// TransactionsTable holds open transactions keyed by kind and account.
	TransactionsTable string `envconfig:"METERING_TRANSACTIONS_DATASTORE" default:"SpaTransactionsTable"`

	// RecordsTable holds historical activity records keyed by date bucket.
	RecordsTable string `envconfig:"METERING_RECORDS_DATASTORE" default:"SpaMeteringTable"`

	// RecordsTTL is the retention of activity records, in seconds.
	RecordsTTL int64 `envconfig:"METERING_RECORDS_TTL" default:"31622400"`
}

// Events configuration for the outbound event bus.
type Events struct {
	// Environment identifies this deployment in emitted events.
	Environment string `envconfig:"ENVIRONMENT_IDENTIFIER" default:"Spa"`
}

// Reporting configuration for CSV artifacts.
type Reporting struct {
	// Bucket receives every produced report.
	Bucket string `envconfig:"REPORTS_BUCKET_NAME" default:""`

	// ActivitiesPrefix is the object key prefix for activity reports.
	ActivitiesPrefix string `envconfig:"REPORTING_ACTIVITIES_PREFIX" default:"SpaReports"`

	// ExceptionsPrefix is the object key prefix for exception reports.
	ExceptionsPrefix string `envconfig:"REPORTING_EXCEPTIONS_PREFIX" default:"SpaExceptions"`
}

// Incident configuration for the exception flow.
type Incident struct {
	// ResponsePlanArn is the response plan that new incidents start from.
	ResponsePlanArn string `envconfig:"RESPONSE_PLAN_ARN" default:""`

	// WebEndpointsParameter is the parameter holding public web endpoints,
	// including the attachment download endpoint.
	WebEndpointsParameter string `envconfig:"WEB_ENDPOINTS_PARAMETER" default:"SpaWebEndpoints"`
}

// Alert configuration for the notification relay.
type Alert struct {
	// TopicArn is the central topic that relayed alerts are published to.
	TopicArn string `envconfig:"TOPIC_ARN" default:""`
}

// Analytics configuration for the optional BigQuery export of activity
// records. The export is disabled while ProjectID is empty.
type Analytics struct {
	ProjectID string `envconfig:"PROJECT_ID" default:""`
	Dataset   string `envconfig:"BIGQUERY_DATASET" default:"spa_metering"`
	Table     string `envconfig:"ACTIVITIES_TABLE" default:"activities"`
}

// Config is the configuration for the application.
type Config struct {
	Accounts  Accounts
	Alert     Alert
	Analytics Analytics
	Events    Events
	Incident  Incident
	Ledger    Ledger
	Log       Log
	Reporting Reporting
}

func New() (*Config, error) {
	cfg := &Config{}

	err := envconfig.Process("", cfg)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}
