package cli

import (
	"encoding/json"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
)

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

// ago renders a past time relative to now, "-" when unset
func ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

func count(n uint64) string {
	return humanize.Comma(int64(n))
}
