package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"consentgate/internal/access"
)

func newVerifyCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <token>",
		Short: "Check that a bearer token is valid and not revoked",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			var v access.Verification
			if err := newClient(opts).post(ctx, "/v1/access/verify", map[string]string{"token": args[0]}, &v); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Subject:    %s\n", v.SubjectID)
			fmt.Fprintf(out, "Purpose:    %s\n", v.Purpose)
			fmt.Fprintf(out, "Fields:     %s\n", strings.Join(v.AllowedFields, ", "))
			fmt.Fprintf(out, "Request ID: %s\n", v.RequestID)
			fmt.Fprintf(out, "Expires:    %s\n", v.ExpiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}
}
