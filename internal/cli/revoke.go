package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

type revokeRequest struct {
	SubjectID string `json:"subject_id"`
	Purpose   string `json:"purpose,omitempty"`
}

type revokeResponse struct {
	SubjectID string `json:"subject_id"`
	Purpose   string `json:"purpose,omitempty"`
	Revoked   int    `json:"revoked"`
}

func newRevokeCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke issued credentials",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "subject <subject-id>",
			Short: "Revoke every credential issued for a subject",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runRevoke(cmd, opts, "/v1/revocations/subject", revokeRequest{SubjectID: args[0]})
			},
		},
		&cobra.Command{
			Use:   "purpose <subject-id> <purpose>",
			Short: "Revoke a subject's credentials issued for one purpose",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runRevoke(cmd, opts, "/v1/revocations/purpose", revokeRequest{SubjectID: args[0], Purpose: args[1]})
			},
		},
	)
	return cmd
}

func runRevoke(cmd *cobra.Command, opts *options, path string, req revokeRequest) error {
	if opts.actorID == "" || opts.organization == "" {
		return errors.New("--actor and --org are required for revocation")
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	var resp revokeResponse
	if err := newClient(opts).post(ctx, path, req, &resp); err != nil {
		return err
	}
	if resp.Purpose != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Revoked %d credential(s) for subject %s, purpose %s\n", resp.Revoked, resp.SubjectID, resp.Purpose)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Revoked %d credential(s) for subject %s\n", resp.Revoked, resp.SubjectID)
	return nil
}
