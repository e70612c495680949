package router

import (
	"math/big"
	"strings"

	cbigquery "cloud.google.com/go/bigquery"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// nullString trims value; an empty result is NULL.
func nullString(value string) cbigquery.NullString {
	trimmed := strings.TrimSpace(value)
	return cbigquery.NullString{StringVal: trimmed, Valid: trimmed != ""}
}

func nullUUID(id *uuid.UUID) cbigquery.NullString {
	if id == nil || *id == uuid.Nil {
		return cbigquery.NullString{}
	}
	return nullString(id.String())
}

func nullInt(value int64) cbigquery.NullInt64 {
	return cbigquery.NullInt64{Int64: value, Valid: true}
}

// numeric converts a money amount to the NUMERIC representation used by the BigQuery client.
func numeric(value decimal.Decimal) *big.Rat {
	return value.Rat()
}
