package writer

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"testing"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/retail-backoffice/internal/analytics/types"
	pkgbigquery "github.com/angelmondragon/retail-backoffice/pkg/bigquery"
)

func TestNewWriterValidation(t *testing.T) {
	if _, err := New(nil, Config{SalesTable: "sales_facts"}); err == nil {
		t.Fatal("expected error when client missing")
	}
	if _, err := New(&pkgbigquery.Client{}, Config{SalesTable: " "}); err == nil {
		t.Fatal("expected error when sales table missing")
	}
}

func TestNewWriterDefaults(t *testing.T) {
	w, err := New(&pkgbigquery.Client{}, Config{
		SalesTable:  " sales_facts ",
		RetryPolicy: RetryPolicy{InitialBackoff: time.Second, MaximumBackoff: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("construct writer: %v", err)
	}
	if w.salesTable != "sales_facts" {
		t.Fatalf("expected trimmed table, got %q", w.salesTable)
	}
	if w.batchSize != defaultBatchSize {
		t.Fatalf("expected default batch size, got %d", w.batchSize)
	}
	if w.retry.MaxAttempts != defaultMaxAttempts {
		t.Fatalf("expected default attempts, got %d", w.retry.MaxAttempts)
	}
	if w.retry.MaximumBackoff != time.Second {
		t.Fatalf("maximum backoff should be raised to initial, got %s", w.retry.MaximumBackoff)
	}
}

func TestEncodeJSON(t *testing.T) {
	nj, err := EncodeJSON(map[string]any{"foo": "bar"})
	if err != nil {
		t.Fatalf("unexpected error encoding json: %v", err)
	}
	if !nj.Valid {
		t.Fatal("expected json to be marked valid")
	}

	nj, err = EncodeJSON(nil)
	if err != nil {
		t.Fatalf("unexpected error for nil json: %v", err)
	}
	if nj.Valid {
		t.Fatal("expected nil json to be invalid")
	}

	rawMessage := json.RawMessage(`{"foo":"baz"}`)
	nj, err = EncodeJSON(rawMessage)
	if err != nil {
		t.Fatalf("unexpected error encoding raw json: %v", err)
	}
	if nj.JSONVal != string(rawMessage) {
		t.Fatalf("expected raw json passed through, got %s", nj.JSONVal)
	}
}

func TestWriterRetriesOnTransientError(t *testing.T) {
	writer, fake := newWriterWithFakeInserter(t)
	fake.responses = []error{
		&googleapi.Error{Code: http.StatusServiceUnavailable},
		nil,
	}

	if err := writer.InsertSale(context.Background(), types.SalesFactRow{EventID: "1"}); err != nil {
		t.Fatalf("unexpected error writing row: %v", err)
	}
	if len(fake.calls) != 2 {
		t.Fatalf("expected two insert attempts, got %d", len(fake.calls))
	}
	if fake.calls[1].table != "sales_facts" {
		t.Fatalf("expected sales table on retry, got %s", fake.calls[1].table)
	}
	if len(writer.pending) != 0 {
		t.Fatal("expected buffer to be empty after success")
	}
}

func TestWriterStopsOnPermanentError(t *testing.T) {
	writer, fake := newWriterWithFakeInserter(t)
	fake.responses = []error{&googleapi.Error{Code: http.StatusBadRequest}}

	err := writer.InsertSale(context.Background(), types.SalesFactRow{EventID: "1"})
	if err == nil {
		t.Fatal("expected permanent error to surface")
	}
	if len(fake.calls) != 1 {
		t.Fatalf("expected a single attempt, got %d", len(fake.calls))
	}
	if len(writer.pending) != 1 {
		t.Fatal("failed rows should stay buffered")
	}
}

func TestWriterGivesUpAfterMaxAttempts(t *testing.T) {
	writer, fake := newWriterWithFakeInserter(t)
	transient := status.Error(codes.Unavailable, "try later")
	fake.responses = []error{transient, transient, transient, transient}

	if err := writer.InsertSale(context.Background(), types.SalesFactRow{EventID: "1"}); err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if len(fake.calls) != defaultMaxAttempts {
		t.Fatalf("expected %d attempts, got %d", defaultMaxAttempts, len(fake.calls))
	}
}

func TestWriterBatching(t *testing.T) {
	writer, fake := newWriterWithFakeInserter(t)
	writer.batchSize = 2

	if err := writer.InsertSale(context.Background(), types.SalesFactRow{EventID: "1"}); err != nil {
		t.Fatalf("unexpected error on first insert: %v", err)
	}
	if len(fake.calls) != 0 {
		t.Fatalf("expected no insert before batch full, got %d", len(fake.calls))
	}

	if err := writer.InsertSale(context.Background(), types.SalesFactRow{EventID: "2"}); err != nil {
		t.Fatalf("unexpected error on second insert: %v", err)
	}
	if len(fake.calls) != 1 {
		t.Fatalf("expected single insert after batch flush, got %d", len(fake.calls))
	}
	if fake.calls[0].rowCount != 2 {
		t.Fatalf("expected two rows inserted, got %d", fake.calls[0].rowCount)
	}
}

func TestWriterFlush(t *testing.T) {
	writer, fake := newWriterWithFakeInserter(t)
	writer.batchSize = 10
	if err := writer.InsertSale(context.Background(), types.SalesFactRow{EventID: "1"}); err != nil {
		t.Fatalf("unexpected insert error: %v", err)
	}
	if err := writer.Flush(context.Background()); err != nil {
		t.Fatalf("unexpected flush error: %v", err)
	}
	if len(fake.calls) != 1 {
		t.Fatalf("expected flush to insert once, got %d", len(fake.calls))
	}
	if len(writer.pending) != 0 {
		t.Fatalf("expected buffer to be empty after flush, got %d", len(writer.pending))
	}
}

func TestWriterUsesEventIDAsInsertID(t *testing.T) {
	writer, fake := newWriterWithFakeInserter(t)
	writer.batchSize = 2

	ctx := context.Background()
	require.NoError(t, writer.InsertSale(ctx, types.SalesFactRow{EventID: "evt-1"}))
	require.Equal(t, 1, writer.Pending())
	require.NoError(t, writer.InsertSale(ctx, types.SalesFactRow{EventID: "evt-2"}))

	require.Len(t, fake.calls, 1)
	require.Equal(t, []string{"evt-1", "evt-2"}, fake.calls[0].insertIDs)
	require.Zero(t, writer.Pending())
}

func TestSalesSchemaMatchesRow(t *testing.T) {
	schema := SalesSchema()
	inferred, err := cbigquery.InferSchema(types.SalesFactRow{})
	require.NoError(t, err)

	byName := make(map[string]*cbigquery.FieldSchema, len(schema))
	for _, field := range schema {
		byName[field.Name] = field
	}
	require.Len(t, schema, len(inferred))
	for _, field := range inferred {
		declared, ok := byName[field.Name]
		require.Truef(t, ok, "column %s missing from schema", field.Name)
		require.Equalf(t, field.Type, declared.Type, "column %s type", field.Name)
	}
	require.True(t, byName["occurred_at"].Required)
	require.False(t, byName["paid_amount"].Required)
	require.Equal(t, cbigquery.JSONFieldType, byName["items"].Type)
}

func TestStructSaverHandlesSparseRow(t *testing.T) {
	row := types.SalesFactRow{
		EventID:     "evt-9",
		EventType:   "order_cancelled",
		OccurredAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		ShopID:      "shop",
		BranchID:    "branch",
		OrderID:     "order",
		OrderNo:     "ACME-20260301-00001",
		Status:      "CANCELLED",
		TotalAmount: big.NewRat(4550, 100),
		Reason:      cbigquery.NullString{StringVal: "customer left", Valid: true},
	}
	saver := &cbigquery.StructSaver{Schema: SalesSchema(), InsertID: row.EventID, Struct: &row}

	values, insertID, err := saver.Save()
	require.NoError(t, err)
	require.Equal(t, "evt-9", insertID)
	require.Equal(t, "45.550000000", values["total_amount"])
	require.NotContains(t, values, "paid_amount")
	require.Equal(t, row.Reason, values["reason"])
	require.Equal(t, cbigquery.NullString{}, values["customer_id"])
}

func TestIsRetryableBigQueryError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"http 429", &googleapi.Error{Code: http.StatusTooManyRequests}, true},
		{"http 404", &googleapi.Error{Code: http.StatusNotFound}, false},
		{"grpc unavailable", status.Error(codes.Unavailable, "x"), true},
		{"grpc invalid", status.Error(codes.InvalidArgument, "x"), false},
		{"row errors transient", cbigquery.PutMultiError{{Errors: cbigquery.MultiError{&googleapi.Error{Code: http.StatusServiceUnavailable}}}}, true},
		{"row errors mixed", cbigquery.PutMultiError{
			{Errors: cbigquery.MultiError{&googleapi.Error{Code: http.StatusServiceUnavailable}}},
			{Errors: cbigquery.MultiError{errors.New("invalid value")}},
		}, false},
	}
	for _, tc := range cases {
		if got := isRetryableBigQueryError(tc.err); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

type insertCall struct {
	table     string
	rowCount  int
	insertIDs []string
}

type fakeInserter struct {
	responses []error
	calls     []insertCall
	index     int
}

func (f *fakeInserter) InsertRows(_ context.Context, table string, rows []any) error {
	call := insertCall{table: table, rowCount: len(rows)}
	for _, row := range rows {
		if saver, ok := row.(*cbigquery.StructSaver); ok {
			call.insertIDs = append(call.insertIDs, saver.InsertID)
		}
	}
	f.calls = append(f.calls, call)
	var err error
	if f.index < len(f.responses) {
		err = f.responses[f.index]
	}
	f.index++
	return err
}

func newWriterWithFakeInserter(t *testing.T) (*BigQueryWriter, *fakeInserter) {
	t.Helper()
	writer, err := New(&pkgbigquery.Client{}, Config{
		SalesTable: "sales_facts",
		RetryPolicy: RetryPolicy{
			InitialBackoff: time.Millisecond,
			MaximumBackoff: 2 * time.Millisecond,
		},
	})
	if err != nil {
		t.Fatalf("construct writer: %v", err)
	}

	fake := &fakeInserter{}
	writer.client = fake
	return writer, fake
}
