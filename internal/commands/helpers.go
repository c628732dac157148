package commands

import (
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ledgerbook/internal/core"
	"ledgerbook/internal/services"
)

const dateLayout = "2006-01-02"

var timeLayouts = []string{time.RFC3339, "2006-01-02T15:04", dateLayout}

func parseAmount(op, s string) (int64, error) {
	v, err := core.ParseAmount(s)
	if err != nil {
		return 0, core.Validation(op, err, "invalid amount %q", s)
	}
	return v, nil
}

// parseTime accepts RFC 3339, a local date-time or a local date. With
// endOfDay a bare date selects its last millisecond.
func parseTime(op, flag, s string, endOfDay bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		t, err := time.ParseInLocation(layout, s, time.Local)
		if err != nil {
			continue
		}
		if endOfDay && layout == dateLayout {
			t = t.AddDate(0, 0, 1).Add(-time.Millisecond)
		}
		return t, nil
	}
	return time.Time{}, core.Validation(op, nil, "invalid --%s %q (want YYYY-MM-DD or RFC 3339)", flag, s)
}

func optionalTime(op, flag, s string, endOfDay bool) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseTime(op, flag, s, endOfDay)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func optionalAmount(op, s string) (*int64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := parseAmount(op, s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// filterFlags are the transaction filters shared by list, stats and export.
type filterFlags struct {
	since, until string
	min, max     string
	account      string
	category     string
	tag          string
	merchant     string
	keyword      string
}

func (f *filterFlags) bindWindow(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.since, "since", "", "earliest occurrence (inclusive)")
	cmd.Flags().StringVar(&f.until, "until", "", "latest occurrence (inclusive)")
}

func (f *filterFlags) bind(cmd *cobra.Command) {
	f.bindWindow(cmd)
	cmd.Flags().StringVar(&f.min, "min", "", "minimum amount")
	cmd.Flags().StringVar(&f.max, "max", "", "maximum amount")
	cmd.Flags().StringVar(&f.category, "category", "", "category id, including its children")
	cmd.Flags().StringVar(&f.tag, "tag", "", "tag id")
	cmd.Flags().StringVar(&f.merchant, "merchant", "", "merchant id")
	cmd.Flags().StringVar(&f.keyword, "keyword", "", "text to find in notes, merchants and tags")
}

func (f *filterFlags) bindAccount(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.account, "account", "", "account id, matching either side of a transfer")
}

func (f *filterFlags) window(op string) (start, end *time.Time, err error) {
	if start, err = optionalTime(op, "since", f.since, false); err != nil {
		return nil, nil, err
	}
	if end, err = optionalTime(op, "until", f.until, true); err != nil {
		return nil, nil, err
	}
	return start, end, nil
}

func (f *filterFlags) query(op, ledgerID string) (services.QueryParams, error) {
	start, end, err := f.window(op)
	if err != nil {
		return services.QueryParams{}, err
	}
	minAmount, err := optionalAmount(op, f.min)
	if err != nil {
		return services.QueryParams{}, err
	}
	maxAmount, err := optionalAmount(op, f.max)
	if err != nil {
		return services.QueryParams{}, err
	}
	return services.QueryParams{
		LedgerID:   ledgerID,
		Start:      start,
		End:        end,
		MinAmount:  minAmount,
		MaxAmount:  maxAmount,
		AccountID:  f.account,
		CategoryID: f.category,
		TagID:      f.tag,
		MerchantID: f.merchant,
		Keyword:    f.keyword,
	}, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
