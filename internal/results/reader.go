// Package results streams rows out of a completed query execution. Three
// readers share one contract: the paginated service API, the delimited-text
// output object, and the columnar (Parquet) output objects. All readers are
// lazy and forward-only; restarting means constructing a new reader.
package results

import (
	"context"

	"github.com/quarrydb/quarry/gateway"
)

// Reader yields the rows of one result set in source order. Next returns
// io.EOF after the final row. Close is idempotent.
type Reader interface {
	Schema() []gateway.Column
	Next(ctx context.Context) ([]gateway.Cell, error)
	Close() error

	// Total reports the row count and whether it is known yet. For
	// streaming readers it becomes known only once the end of the
	// sequence has been observed.
	Total() (int64, bool)
}
