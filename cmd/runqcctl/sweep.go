package main

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/animus-labs/runqc/internal/platform/auth"
	"github.com/animus-labs/runqc/internal/platform/env"
	"github.com/animus-labs/runqc/internal/service/analyses"
	"github.com/spf13/cobra"
)

func newSweepCmd(opts *options) *cobra.Command {
	var (
		baseURL string
		token   string
		subject string
		roles   string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Ask a running autoqc service to evaluate every watched run",
		Long: `POST /sweeps to an autoqc service.

Inside the cluster the request carries gateway identity headers signed
with RUNQC_INTERNAL_AUTH_SECRET. Outside it, pass an OIDC access token with
--token or RUNQC_TOKEN.

Examples:
  RUNQC_INTERNAL_AUTH_SECRET=... runqcctl sweep --url http://autoqc:8080
  runqcctl sweep --url https://runqc.example.org --token "$TOKEN" --limit 50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := env.String("RUNQC_INTERNAL_AUTH_SECRET", "")
			client := newAPIClient(baseURL, token, secret, subject, roles)

			q := url.Values{}
			q.Set("limit", strconv.Itoa(limit))
			var res analyses.SweepResult
			if err := client.postJSON(cmd.Context(), "/sweeps?"+q.Encode(), &res); err != nil {
				return err
			}

			opts.log().Debug("sweep finished", "evaluated", res.Evaluated, "failed", res.Failed)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "evaluated %d, failed %d\n", res.Evaluated, res.Failed)
			for _, e := range res.Errors {
				fmt.Fprintf(out, "  %s\n", e)
			}
			if res.Failed > 0 {
				return fmt.Errorf("%d run analyses could not be evaluated", res.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&baseURL, "url", env.String("RUNQC_URL", "http://localhost:8080"), "autoqc service base URL")
	cmd.Flags().StringVar(&token, "token", env.String("RUNQC_TOKEN", ""), "bearer token when no internal auth secret is set")
	cmd.Flags().StringVar(&subject, "subject", "runqcctl", "subject recorded in the audit log")
	cmd.Flags().StringVar(&roles, "roles", auth.RoleOperator, "comma separated roles sent with signed requests")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum run analyses to evaluate")
	return cmd
}
