// Package cli implements gatewayctl, the operator command line for the
// consent gateway.
package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const defaultGatewayURL = "http://localhost:8080"

type options struct {
	addr          string
	actorID       string
	organization  string
	operatorToken string
	timeout       time.Duration
}

// NewRootCmd builds the command tree writing results to out.
func NewRootCmd(out io.Writer) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "gatewayctl",
		Short:         "Operate a consentgate deployment",
		Long:          "Revokes and verifies credentials against a running gateway, and checks\nqueries and policy files locally.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	addr := os.Getenv("GATEWAY_URL")
	if addr == "" {
		addr = defaultGatewayURL
	}
	root.PersistentFlags().StringVar(&opts.addr, "addr", addr, "Gateway base URL")
	root.PersistentFlags().StringVar(&opts.actorID, "actor", os.Getenv("GATEWAY_ACTOR"), "Actor ID sent with mutating calls")
	root.PersistentFlags().StringVar(&opts.organization, "org", os.Getenv("GATEWAY_ORG"), "Actor organization sent with mutating calls")
	root.PersistentFlags().StringVar(&opts.operatorToken, "operator-token", os.Getenv("GATEWAY_OPERATOR_TOKEN"), "Operator token required by revocation routes")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "Request timeout")

	root.AddCommand(
		newRevokeCmd(opts),
		newVerifyCmd(opts),
		newRewriteCmd(),
		newPolicyCmd(),
	)
	return root
}

// Execute runs gatewayctl and exits non-zero on failure.
func Execute() {
	cmd := NewRootCmd(os.Stdout)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
