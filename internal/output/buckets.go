package output

import (
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

// BucketRow describes one configured bucket.
type BucketRow struct {
	Name   string        `json:"name" yaml:"name"`
	Limit  int           `json:"limit" yaml:"limit"`
	Window time.Duration `json:"-" yaml:"-"`
}

// BucketList renders configured buckets.
type BucketList []BucketRow

func (b BucketList) Title() string { return "Buckets" }

func (b BucketList) Header() table.Row {
	return table.Row{"Bucket", "Limit", "Window", "Rate"}
}

func (b BucketList) Rows() []table.Row {
	rows := make([]table.Row, 0, len(b))
	for _, bucket := range b {
		rows = append(rows, table.Row{bucket.Name, bucket.Limit, bucket.Window.String(), rate(bucket.Limit, bucket.Window)})
	}
	return rows
}

func (b BucketList) Data() any {
	type jsonBucket struct {
		Name     string `json:"name" yaml:"name"`
		Limit    int    `json:"limit" yaml:"limit"`
		WindowMs int64  `json:"window_ms" yaml:"window_ms"`
	}
	out := make([]jsonBucket, 0, len(b))
	for _, bucket := range b {
		out = append(out, jsonBucket{Name: bucket.Name, Limit: bucket.Limit, WindowMs: bucket.Window.Milliseconds()})
	}
	return out
}

// rate expresses limit/window as requests per minute for quick comparison.
func rate(limit int, window time.Duration) string {
	if window <= 0 {
		return "-"
	}
	perMinute := float64(limit) / window.Minutes()
	return formatFloat(perMinute) + "/min"
}
