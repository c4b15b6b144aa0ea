package cli

import (
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-debouncer/core"
)

// ConfigCmd prints the resolved configuration as YAML.
func ConfigCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.LoadConfig(cmd.Context())
			if err != nil {
				return err
			}
			encoder := yaml.NewEncoder(opts.Out)
			encoder.SetIndent(2)
			if err := encoder.Encode(renderDurations(core.ConfigMap(cfg))); err != nil {
				return err
			}
			return encoder.Close()
		},
	}
}

// renderDurations rewrites durations as strings so the output reads back
// through the YAML loader.
func renderDurations(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[key] = renderDurations(item)
		}
		return out
	case time.Duration:
		return typed.String()
	case []time.Duration:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			out = append(out, item.String())
		}
		return out
	default:
		return value
	}
}
