// Package writer streams sales fact rows into the warehouse.
package writer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/retail-backoffice/internal/analytics/types"
)

const (
	defaultBatchSize      = 1
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 250 * time.Millisecond
	defaultMaximumBackoff = 2 * time.Second
)

// Inserter is the slice of the BigQuery client the writer needs.
type Inserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

type Config struct {
	SalesTable  string
	BatchSize   int
	RetryPolicy RetryPolicy
}

// RetryPolicy bounds retries of transient insert failures.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaximumBackoff time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = defaultInitialBackoff
	}
	if p.MaximumBackoff <= 0 {
		p.MaximumBackoff = defaultMaximumBackoff
	}
	p.MaximumBackoff = max(p.MaximumBackoff, p.InitialBackoff)
	return p
}

// BigQueryWriter buffers sales rows and inserts them in batches. Every row
// carries its event id as the insert id, so a redelivered event inside the
// streaming dedupe window does not produce a second fact.
type BigQueryWriter struct {
	client     Inserter
	salesTable string
	schema     cbigquery.Schema
	batchSize  int
	retry      RetryPolicy

	mu      sync.Mutex
	pending []types.SalesFactRow
}

func New(client Inserter, cfg Config) (*BigQueryWriter, error) {
	if client == nil {
		return nil, errors.New("bigquery client required")
	}
	table := strings.TrimSpace(cfg.SalesTable)
	if table == "" {
		return nil, errors.New("sales table is required")
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &BigQueryWriter{
		client:     client,
		salesTable: table,
		schema:     SalesSchema(),
		batchSize:  batch,
		retry:      cfg.RetryPolicy.withDefaults(),
	}, nil
}

// SalesSchema is the sales_facts table layout. Only the event identity
// columns are REQUIRED; every other column is NULL for events without it.
func SalesSchema() cbigquery.Schema {
	required := func(name string, ft cbigquery.FieldType) *cbigquery.FieldSchema {
		return &cbigquery.FieldSchema{Name: name, Type: ft, Required: true}
	}
	nullable := func(name string, ft cbigquery.FieldType) *cbigquery.FieldSchema {
		return &cbigquery.FieldSchema{Name: name, Type: ft}
	}
	return cbigquery.Schema{
		required("event_id", cbigquery.StringFieldType),
		required("event_type", cbigquery.StringFieldType),
		required("occurred_at", cbigquery.TimestampFieldType),
		required("shop_id", cbigquery.StringFieldType),
		required("branch_id", cbigquery.StringFieldType),
		required("order_id", cbigquery.StringFieldType),
		required("order_no", cbigquery.StringFieldType),
		required("status", cbigquery.StringFieldType),
		nullable("customer_id", cbigquery.StringFieldType),
		nullable("sales_user_id", cbigquery.StringFieldType),
		nullable("order_date", cbigquery.TimestampFieldType),
		nullable("sub_total", cbigquery.NumericFieldType),
		nullable("discount", cbigquery.NumericFieldType),
		nullable("shipping_fee", cbigquery.NumericFieldType),
		nullable("tax", cbigquery.NumericFieldType),
		nullable("total_amount", cbigquery.NumericFieldType),
		nullable("paid_amount", cbigquery.NumericFieldType),
		nullable("line_count", cbigquery.IntegerFieldType),
		nullable("units_sold", cbigquery.IntegerFieldType),
		nullable("reason", cbigquery.StringFieldType),
		nullable("items", cbigquery.JSONFieldType),
		nullable("payload", cbigquery.JSONFieldType),
	}
}

// InsertSale queues row and writes the batch once it is full. On failure
// the batch stays queued for the next call or Flush.
func (w *BigQueryWriter) InsertSale(ctx context.Context, row types.SalesFactRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(w.pending, row)
	if len(w.pending) < w.batchSize {
		return nil
	}
	return w.flushLocked(ctx)
}

func (w *BigQueryWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked(ctx)
}

// Pending reports how many rows are waiting to be written.
func (w *BigQueryWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

func (w *BigQueryWriter) flushLocked(ctx context.Context) error {
	if len(w.pending) == 0 {
		return nil
	}
	rows := make([]any, 0, len(w.pending))
	for i := range w.pending {
		rows = append(rows, &cbigquery.StructSaver{
			Schema:   w.schema,
			InsertID: w.pending[i].EventID,
			Struct:   &w.pending[i],
		})
	}
	if err := w.insert(ctx, rows); err != nil {
		return err
	}
	w.pending = w.pending[:0]
	return nil
}

func (w *BigQueryWriter) insert(ctx context.Context, rows []any) error {
	delay := w.retry.InitialBackoff
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := w.client.InsertRows(ctx, w.salesTable, rows)
		if err == nil {
			return nil
		}
		if attempt >= w.retry.MaxAttempts || !isRetryableBigQueryError(err) {
			return fmt.Errorf("insert %d rows into %s after %d attempts: %w", len(rows), w.salesTable, attempt, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = min(delay*2, w.retry.MaximumBackoff)
	}
}

// isRetryableBigQueryError is true only when every underlying failure is
// transient. A single bad row makes the whole batch permanent.
func isRetryableBigQueryError(err error) bool {
	if err == nil {
		return false
	}

	var multi cbigquery.MultiError
	if errors.As(err, &multi) {
		return allRetryable(multi)
	}
	var putErr cbigquery.PutMultiError
	if errors.As(err, &putErr) {
		if len(putErr) == 0 {
			return false
		}
		for _, rowErr := range putErr {
			if !allRetryable(rowErr.Errors) {
				return false
			}
		}
		return true
	}
	var rowErr *cbigquery.RowInsertionError
	if errors.As(err, &rowErr) {
		return rowErr != nil && allRetryable(rowErr.Errors)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusRequestTimeout, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	switch status.Code(err) {
	case codes.Aborted, codes.DeadlineExceeded, codes.Internal, codes.ResourceExhausted, codes.Unavailable:
		return true
	}
	return false
}

func allRetryable(errs []error) bool {
	if len(errs) == 0 {
		return false
	}
	for _, inner := range errs {
		if !isRetryableBigQueryError(inner) {
			return false
		}
	}
	return true
}

// EncodeJSON renders payload for a JSON column. Nil and empty input become
// SQL NULL; raw JSON passes through untouched.
func EncodeJSON(payload any) (cbigquery.NullJSON, error) {
	var raw []byte
	switch value := payload.(type) {
	case nil:
		return cbigquery.NullJSON{}, nil
	case cbigquery.NullJSON:
		return value, nil
	case json.RawMessage:
		raw = value
	case []byte:
		raw = value
	default:
		encoded, err := json.Marshal(payload)
		if err != nil {
			return cbigquery.NullJSON{}, fmt.Errorf("marshal json: %w", err)
		}
		raw = encoded
	}
	if len(raw) == 0 {
		return cbigquery.NullJSON{}, nil
	}
	return cbigquery.NullJSON{Valid: true, JSONVal: string(raw)}, nil
}
