package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/polisai/polis-secureclient/pkg/securebuf"
	"github.com/polisai/polis-secureclient/pkg/secureclient"
)

func newRequestCmd(a *app) *cobra.Command {
	var (
		url               string
		requestFile       string
		caFile            string
		trustPolicy       string
		serverName        string
		timeout           time.Duration
		strictReadTimeout bool
	)

	cmd := &cobra.Command{
		Use:   "request",
		Short: "Send one request and write the response to stdout",
		Long: `Send the bytes of --request-file (or stdin) to --url over TLS and write the
complete response to stdout. The request must ask the server to close the
connection after responding, e.g. "Connection: close" for HTTP.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			if flags.Changed("url") {
				a.cfg.Target.URL = url
			}
			if flags.Changed("request-file") {
				a.cfg.Target.RequestFile = requestFile
			}
			if flags.Changed("ca-file") {
				a.cfg.Trust.Bundle.Path = caFile
				a.cfg.Trust.Bundle.Inline = ""
			}
			if flags.Changed("trust-policy") {
				a.cfg.Trust.PolicyFile = trustPolicy
			}
			if flags.Changed("server-name") {
				a.cfg.Target.ServerName = serverName
			}
			if flags.Changed("timeout") {
				a.cfg.Timeouts.Read = timeout
				a.cfg.Timeouts.Write = timeout
			}
			if strictReadTimeout {
				a.cfg.Timeouts.StrictRead = true
			}
			if err := a.cfg.Validate(); err != nil {
				return fmt.Errorf("invalid flags: %w", err)
			}
			return a.runRequest(cmd)
		},
	}

	cmd.Flags().StringVarP(&url, "url", "u", "", "Target URL (https://host[:port]/...)")
	cmd.Flags().StringVarP(&requestFile, "request-file", "f", "", `File holding the raw request, "-" for stdin`)
	cmd.Flags().StringVar(&caFile, "ca-file", "", "PEM file of trust anchors replacing the system roots")
	cmd.Flags().StringVar(&trustPolicy, "trust-policy", "", "Rego module deciding chain acceptance")
	cmd.Flags().StringVar(&serverName, "server-name", "", "Name sent in SNI and checked against the certificate")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", secureclient.DefaultTimeout, "Read and write timeout")
	cmd.Flags().BoolVar(&strictReadTimeout, "strict-read-timeout", false, "Fail instead of ending the response when a read stalls")

	return cmd
}

func (a *app) runRequest(cmd *cobra.Command) error {
	ctx := cmd.Context()

	ep, err := a.cfg.Endpoint()
	if err != nil {
		return err
	}

	payload, err := readRequest(a.cfg.Target.RequestFile, cmd.InOrStdin())
	if err != nil {
		return err
	}
	defer securebuf.Wipe(payload)

	opts, _, err := a.clientOptions(ctx)
	if err != nil {
		return err
	}
	roots, err := a.rootPool()
	if err != nil {
		return err
	}
	if roots != nil {
		opts = append(opts, secureclient.WithRootCAs(roots))
	}

	response, err := secureclient.New(opts...).SecureRequest(ctx, ep, payload)
	if err != nil {
		return err
	}
	defer response.Destroy()

	if _, err := response.WriteTo(cmd.OutOrStdout()); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	return nil
}
