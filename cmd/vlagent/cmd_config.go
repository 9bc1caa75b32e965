package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/eatd/vl-desktop-agent/internal/config"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configListCmd, configGetCmd, configSetCmd)
	configGetCmd.Flags().Bool("reveal", false, "print secrets in full")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and edit the configuration file",
}

var configListCmd = &cobra.Command{
	Use:   "list [section]",
	Short: "List effective settings, optionally one section such as agent or safety",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		values, err := config.ListValues(loadConfig(), true)
		if err != nil {
			return fmt.Errorf("list config: %w", err)
		}
		prefix := ""
		if len(args) == 1 {
			prefix = strings.TrimSuffix(args[0], ".") + "."
		}
		printSettings(os.Stdout, values, prefix)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one setting from the configuration file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		val, err := config.GetValue(cfgPath, key)
		if err != nil {
			return withSuggestions(err, key)
		}
		if reveal, _ := cmd.Flags().GetBool("reveal"); !reveal && config.IsSecretKey(key) {
			val = config.Mask(val)
		}
		fmt.Fprintln(os.Stdout, formatSetting(val))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one setting; the file is left untouched if the result is invalid",
	Long: `Change one setting in the configuration file.

Values are converted to the key's type: booleans, numbers, strings, and
lists given as JSON or comma-separated ("alt+f4,win+r"). The whole
configuration is validated before anything is written. A running server
picks the change up on restart.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetValue(cfgPath, key, value); err != nil {
			return withSuggestions(err, key)
		}
		display := value
		if config.IsSecretKey(key) {
			display = fmt.Sprint(config.Mask(value))
		}
		fmt.Fprintf(os.Stdout, "Set %s = %s\n", key, display)
		return nil
	},
}

// withSuggestions lists the keys of the same section for an unknown key.
func withSuggestions(err error, key string) error {
	if !errors.Is(err, config.ErrUnknownKey) {
		return err
	}
	section, _, found := strings.Cut(key, ".")
	var near []string
	for _, k := range config.Keys() {
		if found && strings.HasPrefix(k, section+".") {
			near = append(near, k)
		}
	}
	if len(near) == 0 {
		return fmt.Errorf("%w (see 'vlagent config list')", err)
	}
	return fmt.Errorf("%w; %s has: %s", err, section, strings.Join(near, ", "))
}

func printSettings(out io.Writer, values map[string]any, prefix string) {
	keys := make([]string, 0, len(values))
	for k := range values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, k := range keys {
		fmt.Fprintf(w, "%s\t%s\n", k, formatSetting(values[k]))
	}
	w.Flush()
}

// formatSetting prints lists and nulls as JSON and scalars as-is.
func formatSetting(v any) string {
	switch v.(type) {
	case []any, nil:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	}
	return fmt.Sprint(v)
}
