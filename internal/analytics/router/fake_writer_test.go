package router

import (
	"context"

	"github.com/angelmondragon/retail-backoffice/internal/analytics/types"
)

type fakeWriter struct {
	inserted []types.SalesFactRow
	err      error
}

func (f *fakeWriter) InsertSale(_ context.Context, row types.SalesFactRow) error {
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, row)
	return nil
}
