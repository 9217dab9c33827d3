package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loykin/apigw/internal/proxy"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <path>",
	Short: "Show which service and backend URL a request path is routed to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		table, err := doc.RouteTable()
		if err != nil {
			return err
		}
		p, err := proxy.New(table, noopCaller{})
		if err != nil {
			return err
		}
		svc, target, err := p.Target(args[0])
		switch {
		case errors.Is(err, proxy.ErrInternalRoute):
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (served by the gateway)\n", args[0], svc)
			return nil
		case err != nil:
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s %s\n", args[0], svc, target)
		return nil
	},
}
