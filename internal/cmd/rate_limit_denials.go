package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/auditdeck/ratekeeper/internal/output"
	"github.com/auditdeck/ratekeeper/internal/store"
)

type denialFilter struct {
	all    bool
	bucket string
	prefix string
	since  string
	limit  int
}

func (f *denialFilter) register(cmd *cobra.Command, withLimit bool) {
	cmd.Flags().BoolVar(&f.all, "all", false, "Match all buckets and keys")
	cmd.Flags().StringVar(&f.bucket, "bucket", "", "Match a single bucket")
	cmd.Flags().StringVar(&f.prefix, "prefix", "", "Match client keys with this prefix")
	cmd.Flags().StringVar(&f.since, "since", "", "Only denials after a duration ago (24h) or an RFC3339 time")
	if withLimit {
		cmd.Flags().IntVar(&f.limit, "limit", 100, "Maximum records to return (0 for no limit)")
	}
}

// query builds the store query. Read-only commands default to --all.
func (f *denialFilter) query(now time.Time, defaultAll bool) (store.DenialQuery, error) {
	q := store.DenialQuery{
		All:    f.all,
		Bucket: strings.TrimSpace(f.bucket),
		Prefix: strings.TrimSpace(f.prefix),
		Limit:  f.limit,
	}
	if defaultAll && q.Bucket == "" && q.Prefix == "" {
		q.All = true
	}

	since, err := parseSince(f.since, now)
	if err != nil {
		return store.DenialQuery{}, err
	}
	q.Since = since

	if err := q.Validate(); err != nil {
		return store.DenialQuery{}, err
	}
	return q, nil
}

// parseSince accepts a relative duration or an absolute RFC3339 timestamp.
func parseSince(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(value); err == nil {
		if d < 0 {
			return time.Time{}, fmt.Errorf("--since must not be negative")
		}
		return now.Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("--since: expected a duration like 24h or an RFC3339 time, got %q", value)
	}
	return t, nil
}

var (
	denialsListFilter    denialFilter
	denialsSummaryFilter denialFilter
	denialsResetFilter   denialFilter
	denialsResetYes      bool
	denialsResetDryRun   bool
)

var rateLimitDenialsCmd = &cobra.Command{
	Use:   "denials",
	Short: "Query and manage the denial audit log",
}

var denialsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded denials, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := denialsListFilter.query(time.Now(), true)
		if err != nil {
			return err
		}

		db, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		records, err := db.ListDenials(cmd.Context(), q)
		if err != nil {
			return err
		}
		return writeReport(cmd, "rate-limit.denials", output.DenialList(records))
	},
}

var denialsSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Summarize recorded denials per bucket",
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := denialsSummaryFilter.query(time.Now(), true)
		if err != nil {
			return err
		}

		db, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		summaries, err := db.SummarizeDenials(cmd.Context(), q)
		if err != nil {
			return err
		}
		return writeReport(cmd, "rate-limit.denials.summary", output.DenialSummaryList(summaries))
	},
}

var denialsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete recorded denials",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}

		q, err := denialsResetFilter.query(time.Now(), false)
		if err != nil {
			return err
		}
		if q.All && !denialsResetYes && !denialsResetDryRun {
			return errors.New("--all requires --yes (or use --dry-run)")
		}

		db, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		matched, err := db.CountDenials(cmd.Context(), q)
		if err != nil {
			return err
		}

		sink, err := openCommandSink(cmd, "rate-limit.denials.reset", format)
		if err != nil {
			return err
		}
		defer sink.Close() //nolint:errcheck

		if denialsResetDryRun {
			return writeDenialReset(format, sink, denialResetResult{Matched: matched, DryRun: true})
		}

		deleted, err := db.ResetDenials(cmd.Context(), q)
		if err != nil {
			return err
		}
		return writeDenialReset(format, sink, denialResetResult{Matched: matched, Deleted: deleted})
	},
}

type denialResetResult struct {
	Matched int   `json:"matched" yaml:"matched"`
	Deleted int64 `json:"deleted" yaml:"deleted"`
	DryRun  bool  `json:"dry_run" yaml:"dry_run"`
}

func writeDenialReset(format output.Format, w io.Writer, result denialResetResult) error {
	switch format {
	case output.FormatJSON:
		payload, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(payload))
		return err
	case output.FormatYAML:
		payload, err := yaml.Marshal(result)
		if err != nil {
			return err
		}
		_, err = w.Write(payload)
		return err
	}

	line := fmt.Sprintf("Deleted %d/%d denial record(s)", result.Deleted, result.Matched)
	if result.DryRun {
		line = fmt.Sprintf("Would delete %d denial record(s)", result.Matched)
	}
	_, err := fmt.Fprint(w, ascii.DrawBox("Denial reset\n\n"+line, 0))
	return err
}

func init() {
	addOutputFlags(denialsListCmd)
	denialsListFilter.register(denialsListCmd, true)

	addOutputFlags(denialsSummaryCmd)
	denialsSummaryFilter.register(denialsSummaryCmd, false)

	addOutputFlags(denialsResetCmd)
	denialsResetFilter.register(denialsResetCmd, false)
	denialsResetCmd.Flags().BoolVar(&denialsResetYes, "yes", false, "Confirm destructive reset")
	denialsResetCmd.Flags().BoolVar(&denialsResetDryRun, "dry-run", false, "Show what would be deleted")

	rateLimitDenialsCmd.AddCommand(denialsListCmd)
	rateLimitDenialsCmd.AddCommand(denialsSummaryCmd)
	rateLimitDenialsCmd.AddCommand(denialsResetCmd)
}
