package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/auditdeck/ratekeeper/internal/config"
	"github.com/auditdeck/ratekeeper/internal/output"
)

var configShowFormat string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the merged configuration (defaults, file, environment)",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(configShowFormat)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		rendered, err := renderConfig(redactConfig(*cfg), format)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
		return err
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)

	configShowCmd.Flags().StringVar(&configShowFormat, "output-format", string(output.FormatYAML), "Output format: yaml|json")
}

func renderConfig(cfg config.Config, format output.Format) (string, error) {
	switch format {
	case output.FormatYAML:
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return "", err
		}
		return strings.TrimRight(string(data), "\n"), nil
	case output.FormatJSON:
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("unsupported output format for config: %s", format)
	}
}

// redactConfig masks secrets before the config is printed.
func redactConfig(cfg config.Config) config.Config {
	if cfg.Store.AuthToken != "" {
		cfg.Store.AuthToken = "********"
	}
	return cfg
}
