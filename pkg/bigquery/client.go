// Package bigquery owns the warehouse connection the analytics worker
// streams sales facts into.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/angelmondragon/retail-backoffice/pkg/config"
	"github.com/angelmondragon/retail-backoffice/pkg/gcp"
	"github.com/angelmondragon/retail-backoffice/pkg/logger"
)

const metadataTimeout = 10 * time.Second

var (
	ErrDatasetRequired   = errors.New("bigquery dataset is required")
	ErrTableRequired     = errors.New("bigquery table name is required")
	ErrNotInitialized    = errors.New("bigquery client not initialized")
	errPartitionRequired = errors.New("partition column is required")
)

// Client is scoped to one dataset and knows which table holds sales facts.
type Client struct {
	raw        *bigquery.Client
	dataset    *bigquery.Dataset
	salesTable string
}

// NewClient dials BigQuery and checks that the dataset exists. The sales
// table is checked by Ping or created by EnsureSalesTable.
func NewClient(ctx context.Context, gcpCfg config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcpCfg.ProjectID)
	datasetID := strings.TrimSpace(cfg.Dataset)
	sales := strings.TrimSpace(cfg.SalesTable)
	switch {
	case project == "":
		return nil, gcp.ErrProjectIDRequired
	case datasetID == "":
		return nil, ErrDatasetRequired
	case sales == "":
		return nil, ErrTableRequired
	}

	raw, err := bigquery.NewClient(ctx, project, gcp.ClientOptions(gcpCfg)...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}
	c := &Client{raw: raw, dataset: raw.Dataset(datasetID), salesTable: sales}

	checkCtx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()
	if err := c.checkDataset(checkCtx); err != nil {
		_ = raw.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"project":     project,
			"dataset":     datasetID,
			"sales_table": sales,
		}), "bigquery client initialized")
	}
	return c, nil
}

// SalesTable is the configured name of the sales fact table.
func (c *Client) SalesTable() string {
	if c == nil {
		return ""
	}
	return c.salesTable
}

// EnsureSalesTable creates the sales table with schema, partitioned by day
// on partitionBy, unless it already exists. An existing table is left as is.
func (c *Client) EnsureSalesTable(ctx context.Context, schema bigquery.Schema, partitionBy string) error {
	if c == nil || c.dataset == nil {
		return ErrNotInitialized
	}
	if strings.TrimSpace(partitionBy) == "" {
		return errPartitionRequired
	}

	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	table := c.dataset.Table(c.salesTable)
	_, err := table.Metadata(ctx)
	if err == nil {
		return nil
	}
	if !gcp.IsNotFound(err) {
		return fmt.Errorf("checking table %q: %w", c.salesTable, err)
	}

	meta := &bigquery.TableMetadata{
		Schema: schema,
		TimePartitioning: &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: partitionBy,
		},
	}
	if err := table.Create(ctx, meta); err != nil {
		return fmt.Errorf("creating table %q: %w", c.salesTable, err)
	}
	return nil
}

// Ping checks that both the dataset and the sales table are reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.dataset == nil {
		return ErrNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	if err := c.checkDataset(ctx); err != nil {
		return err
	}
	if _, err := c.dataset.Table(c.salesTable).Metadata(ctx); err != nil {
		if gcp.IsNotFound(err) {
			return fmt.Errorf("table %q does not exist", c.salesTable)
		}
		return fmt.Errorf("checking table %q: %w", c.salesTable, err)
	}
	return nil
}

func (c *Client) checkDataset(ctx context.Context) error {
	if _, err := c.dataset.Metadata(ctx); err != nil {
		if gcp.IsNotFound(err) {
			return fmt.Errorf("dataset %q does not exist", c.dataset.DatasetID)
		}
		return fmt.Errorf("checking dataset %q: %w", c.dataset.DatasetID, err)
	}
	return nil
}

// InsertRows streams rows into table. Each row must be a struct or a
// bigquery.ValueSaver; an empty batch is a no-op.
func (c *Client) InsertRows(ctx context.Context, table string, rows []any) error {
	if c == nil || c.dataset == nil {
		return ErrNotInitialized
	}
	table = strings.TrimSpace(table)
	if table == "" {
		return ErrTableRequired
	}
	if len(rows) == 0 {
		return nil
	}
	return c.dataset.Table(table).Inserter().Put(ctx, rows)
}

func (c *Client) Close() error {
	if c == nil || c.raw == nil {
		return nil
	}
	return c.raw.Close()
}
