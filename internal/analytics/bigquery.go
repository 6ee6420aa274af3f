// Package analytics exports activity records to a BigQuery table, for
// ad-hoc queries beyond the CSV reports. The export is optional; the
// ledger remains the durable source.
package analytics

import (
	"context"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
)

// Activity is the table schema, inferred on creation.
type Activity struct {
	CostCenter  string  `bigquery:"cost_center"`
	Transaction string  `bigquery:"transaction"`
	Stamp       string  `bigquery:"stamp"`
	Account     string  `bigquery:"account"`
	Identifier  string  `bigquery:"identifier"`
	Duration    float64 `bigquery:"duration"`
}

type Client struct {
	client  *bigquery.Client
	dataset string
	table   string
}

func New(ctx context.Context, projectID, dataset, table string) (*Client, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return &Client{
		client:  client,
		dataset: dataset,
		table:   table,
	}, nil
}

func (c *Client) CreateTableIfNotExists(ctx context.Context) error {
	exists, err := c.tableExists(ctx)
	if err != nil {
		return fmt.Errorf("failed to check if table exists: %w", err)
	}
	if exists {
		return nil
	}

	schema, err := bigquery.InferSchema(Activity{})
	if err != nil {
		return fmt.Errorf("failed to infer schema: %w", err)
	}
	if err := c.client.Dataset(c.dataset).Table(c.table).Create(ctx, &bigquery.TableMetadata{Schema: schema}); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}

// tableExists checks whether the activities table exists on the dataset.
func (c *Client) tableExists(ctx context.Context) (bool, error) {
	tableRef := c.client.Dataset(c.dataset).Table(c.table)
	if _, err := tableRef.Metadata(ctx); err != nil {
		if e, ok := err.(*googleapi.Error); ok && e.Code == http.StatusNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// InsertActivity streams one record into the table.
func (c *Client) InsertActivity(ctx context.Context, record map[string]any) error {
	row := Activity{
		CostCenter:  asString(record["cost-center"]),
		Transaction: asString(record["transaction"]),
		Stamp:       asString(record["stamp"]),
		Account:     asString(record["account"]),
		Identifier:  asString(record["identifier"]),
	}
	if duration, ok := record["duration"].(float64); ok {
		row.Duration = duration
	}
	if err := c.client.Dataset(c.dataset).Table(c.table).Inserter().Put(ctx, row); err != nil {
		return fmt.Errorf("failed to insert activity: %w", err)
	}
	return nil
}

func asString(value any) string {
	if typed, ok := value.(string); ok {
		return typed
	}
	return ""
}
