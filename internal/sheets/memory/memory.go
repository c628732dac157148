// Package memory is an in-process sheet used when no spreadsheet is
// configured and in tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"ledgerbook/internal/sheets"
)

type Sheet struct {
	mu   sync.Mutex
	rows [][]string
}

var _ sheets.Sink = (*Sheet)(nil)

func New() *Sheet { return &Sheet{} }

// AppendRows stores copies of rows and returns an A1-style reference.
func (s *Sheet) AppendRows(_ context.Context, rows [][]string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	first := len(s.rows) + 1
	for _, r := range rows {
		s.rows = append(s.rows, append([]string(nil), r...))
	}
	return fmt.Sprintf("mem!A%d:A%d", first, len(s.rows)), nil
}

func (s *Sheet) ClearRows(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = nil
	return nil
}

// Rows returns a snapshot of the sheet content.
func (s *Sheet) Rows() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]string, len(s.rows))
	for i, r := range s.rows {
		out[i] = append([]string(nil), r...)
	}
	return out
}
