package output

import (
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/auditdeck/ratekeeper/internal/store"
)

const timeLayout = "2006-01-02 15:04:05.000Z07:00"

// DenialList renders stored denials.
type DenialList []store.DenialRecord

func (d DenialList) Title() string { return "Denials" }

func (d DenialList) Header() table.Row {
	return table.Row{"ID", "Denied At", "Bucket", "Key", "Retry After"}
}

func (d DenialList) Rows() []table.Row {
	rows := make([]table.Row, 0, len(d))
	for _, record := range d {
		rows = append(rows, table.Row{
			record.ID,
			record.DeniedAt.UTC().Format(timeLayout),
			record.Bucket,
			record.Key,
			strconv.FormatInt(record.RetryAfter.Milliseconds(), 10) + "ms",
		})
	}
	return rows
}

func (d DenialList) Footer() table.Row {
	return table.Row{"", "", "", strconv.Itoa(len(d)) + " denials", ""}
}

func (d DenialList) Data() any { return []store.DenialRecord(d) }

// DenialSummaryList renders per-bucket denial aggregates.
type DenialSummaryList []store.DenialSummary

func (s DenialSummaryList) Title() string { return "Denials by bucket" }

func (s DenialSummaryList) Header() table.Row {
	return table.Row{"Bucket", "Denials", "Distinct Keys", "Last Denied"}
}

func (s DenialSummaryList) Rows() []table.Row {
	rows := make([]table.Row, 0, len(s))
	for _, summary := range s {
		last := "-"
		if !summary.LastDeniedAt.IsZero() {
			last = summary.LastDeniedAt.UTC().Format(time.RFC3339)
		}
		rows = append(rows, table.Row{summary.Bucket, summary.Denials, summary.DistinctKeys, last})
	}
	return rows
}

func (s DenialSummaryList) Footer() table.Row {
	total := 0
	for _, summary := range s {
		total += summary.Denials
	}
	return table.Row{"total", total, "", ""}
}

func (s DenialSummaryList) Data() any { return []store.DenialSummary(s) }
