package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loykin/apigw/internal/health"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe every backend health endpoint once and print the report",
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		probe := doc.HTTPClient()
		checker, err := health.NewChecker(doc.HealthTargets(), doc.Health.Timeout, probe.New())
		if err != nil {
			return err
		}
		rep := checker.Check(cmd.Context())
		out, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(out))
		if !rep.Healthy() {
			return &exitError{code: 1, msg: "one or more backends are unhealthy"}
		}
		return nil
	},
}
