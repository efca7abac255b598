package commands

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/ixbulk/am"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: "Manage ixbulk configuration",
	Long: `Display and manage ixbulk configuration ("I am").

Configuration sources (in order of precedence):
1. Command line flags
2. Environment variables (IXBULK_* prefix)
3. Project config (./ixbulk.toml or ./am.toml, searched upward)
4. User config (~/.ixbulk/am.toml)
5. System config (/etc/ixbulk/am.toml)
6. Default values

Examples:
  ixbulk am show                        # Show effective configuration
  ixbulk am show --format yaml          # ... as YAML
  ixbulk am get import.batch_size       # One value
  ixbulk am set import.thread_count 8   # Persist to ~/.ixbulk/am.toml
  ixbulk am where                       # Which layer set each value`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	RunE:  runAmShow,
}

var amGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value",
	Long:  "Get a configuration value using dot notation (e.g., database.path, import.batch_size)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmGet,
}

var amSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Persist a configuration value to the user config",
	Long: `Persist a configuration value to ~/.ixbulk/am.toml.

The previous file is kept as am.toml.back1 (up to three backups). The value is
rejected, and the file left untouched, if the result would not validate.
A running import started with --watch-config picks up policy.* changes.`,
	Args: cobra.ExactArgs(2),
	RunE: runAmSet,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the effective configuration",
	RunE:  runAmValidate,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show which source set each value",
	RunE:  runAmWhere,
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amGetCmd)
	AmCmd.AddCommand(amSetCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amWhereCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	if _, err := am.Load(); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	settings := am.GetViper().AllSettings()

	format := configFormat
	if useJSON(cmd) {
		format = "json"
	}

	switch format {
	case "json":
		return printJSON(cmd, settings)

	case "yaml":
		data, err := yaml.Marshal(settings)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "# ixbulk configuration\n%s", data)

	case "toml":
		data, err := toml.Marshal(settings)
		if err != nil {
			return fmt.Errorf("failed to marshal config to TOML: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "# ixbulk configuration\n%s", data)

	default:
		return fmt.Errorf("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}
	return nil
}

func runAmGet(cmd *cobra.Command, args []string) error {
	key := args[0]
	v := am.GetViper()
	if !v.IsSet(key) {
		return fmt.Errorf("configuration key %q not found", key)
	}
	fmt.Fprintln(cmd.OutOrStdout(), am.Get(key))
	return nil
}

func runAmSet(cmd *cobra.Command, args []string) error {
	if err := am.SetValue(args[0], args[1]); err != nil {
		return err
	}
	am.Reset()
	pterm.Success.Printf("%s = %s written to %s\n", args[0], args[1], am.UserConfigPath())
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	pterm.Success.Println("Configuration is valid")
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	settings := am.Introspect()
	if useJSON(cmd) {
		return printJSON(cmd, settings)
	}

	data := pterm.TableData{{"Key", "Value", "Source", "From"}}
	for _, s := range settings {
		data = append(data, []string{s.Key, fmt.Sprint(s.Value), string(s.Source), s.SourcePath})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
