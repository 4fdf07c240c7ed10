// Package cmd provides the weft command-line interface.
//
// Configuration System:
//
//	Settings come from several sources, highest priority first:
//	1. Command-line flags (--config, --macros, --log-level, ...)
//	2. WEFT_CONFIG_FILE environment variable: custom config file path
//	3. Individual environment variables (WEFT_MACROS_CACHE_SIZE, ...)
//	4. Configuration file (.weft.yml)
//
// Environment Variables:
//
//	WEFT_CONFIG_FILE: Path to custom configuration file
//	WEFT_LOG_LEVEL: Override the log level
//	WEFT_RENDER_ESCAPE: Enable/disable escaping of substituted values
//	And the rest following the WEFT_<SECTION>_<OPTION> pattern
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/conneroisu/weft/internal/config"
	"github.com/conneroisu/weft/internal/engine"
	"github.com/conneroisu/weft/internal/logging"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "weft",
	Short: "Render component templates with macros",
	Long: `Weft renders HTML-like component templates. Templates bind attributes
with {{ ... }} expressions, compose registered components and expand macros
defined inline or in macro files.

Quick Start:
  weft render page.weft --data data.yaml   Render a template
  weft validate                            Check every template for errors
  weft macros                              List macros found in macro files
  weft watch page.weft                     Re-render whenever a file changes`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is .weft.yml, can also use WEFT_CONFIG_FILE env var)")
	flags.StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")
	flags.StringSlice("templates", nil, "template directories")
	flags.StringSlice("macros", nil, "macro file directories, searched in order")
	flags.String("registry", "", "YAML file declaring component tags")

	bindFlags(flags, map[string]string{
		"log-level":  "log.level",
		"log-format": "log.format",
		"templates":  "templates.paths",
		"macros":     "macros.paths",
		"registry":   "components.registry_file",
	})
}

// bindFlags binds each named flag to a configuration key.
func bindFlags(flags *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("binding flag %s: %v", name, err))
		}
	}
}

// initConfig selects the config file and enables WEFT_ environment
// variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("WEFT_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".weft")
	}

	viper.SetEnvPrefix("WEFT")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// A missing config file is not an error; defaults apply
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// setup loads the configuration and builds the logger and engine shared by
// the subcommands.
func setup(cmd *cobra.Command) (*config.Config, *engine.Engine, logging.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	loggerConfig := cfg.LoggerConfig()
	loggerConfig.Output = cmd.ErrOrStderr()
	logger := logging.NewLogger(loggerConfig).WithComponent("cli")

	eng, err := engine.New(cfg, engine.WithLogger(logger))
	if err != nil {
		return nil, nil, nil, err
	}

	return cfg, eng, logger, nil
}

// commandContext returns the command's context, falling back to Background
// when the command is run outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}

	return context.Background()
}
