package main

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/loykin/apigw/cmd/apigw/config"
)

var v = config.NewViper()

var rootCmd = &cobra.Command{
	Use:           "apigw",
	Short:         "Aggregating API gateway for the user and transaction services",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to a config yaml (defaults are used when empty)")
	rootCmd.PersistentFlags().String("env-file", ".env", "dotenv file loaded before reading the config")
	rootCmd.PersistentFlags().String("log-level", "", "override logging.level (error, warn, info, debug)")
	rootCmd.PersistentFlags().String("log-format", "", "override logging.format (text, json, color)")

	_ = v.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = v.BindPFlag("env_file", rootCmd.PersistentFlags().Lookup("env-file"))
	_ = v.BindPFlag("log_level_override", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("log_format_override", rootCmd.PersistentFlags().Lookup("log-format"))

	addServeFlags(rootCmd)
	addServeFlags(serveCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(waitCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
}

func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().String("host", "", "override server.host")
	cmd.Flags().Int("port", 0, "override server.port")
}

// loadEnvFile loads a dotenv file when present. Existing variables win.
func loadEnvFile(path string) error {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil
	}
	if err := godotenv.Load(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// loadConfig reads the env file and the config document, applies CLI
// overrides and configures logging.
func loadConfig(cmd *cobra.Command) (*config.ConfigDoc, error) {
	if err := loadEnvFile(v.GetString("env_file")); err != nil {
		return nil, err
	}
	doc, err := config.Load(v, v.GetString("config"))
	if err != nil {
		return nil, err
	}
	if lvl := strings.TrimSpace(v.GetString("log_level_override")); lvl != "" {
		doc.Logging.Level = lvl
	}
	if f := strings.TrimSpace(v.GetString("log_format_override")); f != "" {
		doc.Logging.Format = f
	}
	if cmd != nil {
		if fl := cmd.Flags().Lookup("host"); fl != nil && fl.Changed {
			doc.Server.Host = fl.Value.String()
		}
		if fl := cmd.Flags().Lookup("port"); fl != nil && fl.Changed {
			if port, err := cmd.Flags().GetInt("port"); err == nil {
				doc.Server.Port = port
			}
		}
	}
	if err := doc.SetupLogging(); err != nil {
		return nil, err
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			_, _ = os.Stderr.WriteString(ee.msg + "\n")
			exitHandler.Exit(ee.code)
			return
		}
		exitHandler.LogFatalError(err, "command execution failed")
	}
}
