package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loykin/apigw/internal/retry"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		out, err := doc.YAML()
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), string(out))
		return err
	},
}

// noopCaller satisfies proxy.Caller for commands that only resolve routes.
type noopCaller struct{}

func (noopCaller) Call(context.Context, retry.OutboundCall) retry.Outcome {
	return retry.Fatal("calls are disabled")
}
