// Package sheets defines the outbound spreadsheet sink used by the CSV
// export.
package sheets

import "context"

type (
	// RowWriter appends rows below the existing content and returns a
	// reference to the written range.
	RowWriter interface {
		AppendRows(ctx context.Context, rows [][]string) (ref string, err error)
	}

	// RowClearer empties the target sheet before a full re-export.
	RowClearer interface {
		ClearRows(ctx context.Context) error
	}

	Sink interface {
		RowWriter
		RowClearer
	}
)

// Publish writes rows to sink, clearing it first when replace is set.
func Publish(ctx context.Context, sink Sink, rows [][]string, replace bool) (string, error) {
	if replace {
		if err := sink.ClearRows(ctx); err != nil {
			return "", err
		}
	}
	if len(rows) == 0 {
		return "", nil
	}
	return sink.AppendRows(ctx, rows)
}
