package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/reelgen/reelgen/internal/config"
	"github.com/reelgen/reelgen/pkg/duration"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing reelgen configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the effective configuration values in YAML format.

This shows every configuration option with the value currently in effect
(defaults, overridden by config file and environment). Secrets are
masked. You can redirect this output to a file to create a
configuration template:

  reelgen config dump > reelgen.yaml

Configuration can be set via:
  - Config file (reelgen.yaml in ., ./configs, /etc/reelgen)
  - Environment variables (REELGEN_SERVER_PORT, REELGEN_DATABASE_DSN, etc.)
  - Command-line flags (for some options)

Environment variables use the REELGEN_ prefix and underscores for nesting.
Example: providers.llm.api_key -> REELGEN_PROVIDERS_LLM_API_KEY`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a config struct to a map keyed by mapstructure tags,
// formatting durations for human readability.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Name
		}

		switch v := field.Interface().(type) {
		case time.Duration:
			result[key] = duration.Format(v)
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(field.Interface())
			} else {
				result[key] = field.Interface()
			}
		}
	}
	return result
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	// initConfig has already primed the global viper with defaults, the
	// config file and REELGEN_ env overrides.
	cfg, err := config.Effective(viper.GetViper())
	if err != nil {
		return fmt.Errorf("reading effective config: %w", err)
	}
	cfg.MaskSecrets()

	yamlData, err := yaml.Marshal(toMap(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Println("# reelgen Configuration File")
	fmt.Println("# ==========================")
	fmt.Println("#")
	fmt.Println("# Values shown are the ones currently in effect. Secrets are")
	fmt.Println("# masked; empty secrets are still unset.")
	fmt.Println("# Duration format: 500ms, 30s, 5m, 1h")
	fmt.Println("#")
	fmt.Println("# Environment variable overrides:")
	fmt.Println("#   REELGEN_SERVER_HOST, REELGEN_SERVER_PORT")
	fmt.Println("#   REELGEN_DATABASE_DRIVER, REELGEN_DATABASE_DSN")
	fmt.Println("#   REELGEN_STORAGE_ENDPOINT, REELGEN_STORAGE_API_KEY")
	fmt.Println("#   REELGEN_PROVIDERS_LLM_API_KEY, REELGEN_PROVIDERS_IMAGE_API_KEY")
	fmt.Println("#   REELGEN_PROVIDERS_TTS_API_KEY, REELGEN_PROVIDERS_TTS_VOICE_ID")
	fmt.Println("#   REELGEN_LOGGING_LEVEL, REELGEN_LOGGING_FORMAT")
	fmt.Println("#   etc.")
	fmt.Println("#")
	fmt.Println("")
	fmt.Print(string(yamlData))

	return nil
}
