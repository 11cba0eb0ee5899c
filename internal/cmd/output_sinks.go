package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/auditdeck/ratekeeper/internal/observability"
	"github.com/auditdeck/ratekeeper/internal/output"
)

// reportSink is where a command writes its report: stdout or a file.
type reportSink struct {
	io.Writer
	path   string
	closer io.Closer
}

func (s *reportSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

var nonFilename = regexp.MustCompile(`[^a-z0-9._-]+`)

func sanitizeFilename(value string) string {
	clean := nonFilename.ReplaceAllString(strings.ToLower(strings.TrimSpace(value)), "-")
	if clean = strings.Trim(clean, "-."); clean == "" {
		return "output"
	}
	return clean
}

// addOutputFlags registers --output-format, --out and --out-dir on cmd.
func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().String("output-format", string(output.FormatTable), "Output format: table|json|yaml|markdown")
	cmd.Flags().String("out", "", "Write output to a file (default stdout)")
	cmd.Flags().String("out-dir", "", "Write output to a directory, one file per report")
}

func resolveOutputFormat(cmd *cobra.Command) (output.Format, error) {
	value, err := cmd.Flags().GetString("output-format")
	if err != nil {
		return "", err
	}
	return output.ParseFormat(value)
}

func resolveOutputTargets(cmd *cobra.Command) (outPath, outDir string, err error) {
	if outPath, err = cmd.Flags().GetString("out"); err != nil {
		return "", "", err
	}
	if outDir, err = cmd.Flags().GetString("out-dir"); err != nil {
		return "", "", err
	}
	outPath, outDir = strings.TrimSpace(outPath), strings.TrimSpace(outDir)
	if outPath != "" && outDir != "" {
		return "", "", fmt.Errorf("--out and --out-dir are mutually exclusive")
	}
	return outPath, outDir, nil
}

// openCommandSink resolves the output flags of cmd. With --out-dir the file
// is named after the report and the format extension.
func openCommandSink(cmd *cobra.Command, report string, format output.Format) (*reportSink, error) {
	outPath, outDir, err := resolveOutputTargets(cmd)
	if err != nil {
		return nil, err
	}
	switch {
	case outDir != "":
		outPath = filepath.Join(outDir, sanitizeFilename(report)+format.Extension())
	case outPath == "", outPath == "-":
		return &reportSink{Writer: cmd.OutOrStdout(), path: "-"}, nil
	}

	if abs, err := filepath.Abs(outPath); err == nil {
		outPath = abs
	}
	// #nosec G301 -- report directories are user-owned
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	file, err := os.Create(outPath)
	if err != nil {
		return nil, err
	}
	return &reportSink{Writer: file, path: outPath, closer: file}, nil
}

// writeReport renders v in the command's output format to its sink.
func writeReport(cmd *cobra.Command, report string, v output.Tabular) error {
	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return err
	}
	rendered, err := output.Render(format, v)
	if err != nil {
		return err
	}
	if !strings.HasSuffix(rendered, "\n") {
		rendered += "\n"
	}

	sink, err := openCommandSink(cmd, report, format)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(sink, rendered); err != nil {
		_ = sink.Close()
		return err
	}
	if err := sink.Close(); err != nil {
		return err
	}
	if sink.path != "-" && observability.CLILogger != nil {
		observability.CLILogger.Info("Report written", zap.String("report", report), zap.String("path", sink.path))
	}
	return nil
}
