package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/apigw/internal/health"
	"github.com/loykin/apigw/internal/util"
)

var (
	waitURL      string
	waitService  string
	waitMethod   string
	waitStatus   int
	waitTimeout  time.Duration
	waitInterval time.Duration
)

var waitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Poll a backend until it answers with the expected status",
	Long: `Poll --url, or the health endpoint of --service, until it returns the
expected status or the timeout elapses. Without either flag every configured
service is waited for in turn.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		var urls []string
		switch {
		case strings.TrimSpace(waitURL) != "":
			urls = []string{strings.TrimSpace(waitURL)}
		case strings.TrimSpace(waitService) != "":
			found := false
			for _, s := range doc.Services {
				if strings.EqualFold(s.Name, waitService) {
					urls = append(urls, util.JoinURL(s.URL, s.HealthPath))
					found = true
				}
			}
			if !found {
				return fmt.Errorf("unknown service %q", waitService)
			}
		default:
			for _, t := range doc.HealthTargets() {
				urls = append(urls, t.URL())
			}
		}

		client := doc.HTTPClient().New()
		for _, u := range urls {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "waiting for %s\n", u)
			if err := health.Wait(cmd.Context(), client, health.WaitParams{
				URL:      u,
				Method:   waitMethod,
				Expected: waitStatus,
				Timeout:  waitTimeout,
				Interval: waitInterval,
			}); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s is ready\n", u)
		}
		return nil
	},
}

func init() {
	waitCmd.Flags().StringVar(&waitURL, "url", "", "URL to poll")
	waitCmd.Flags().StringVar(&waitService, "service", "", "configured service whose health endpoint is polled")
	waitCmd.Flags().StringVar(&waitMethod, "method", "GET", "GET or HEAD")
	waitCmd.Flags().IntVar(&waitStatus, "status", 200, "expected status code")
	waitCmd.Flags().DurationVar(&waitTimeout, "timeout", 60*time.Second, "give up after this long")
	waitCmd.Flags().DurationVar(&waitInterval, "interval", 2*time.Second, "pause between polls")
}
