package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"consentgate/internal/consent"
	"consentgate/internal/consent/store/file"
)

func newPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect consent policy documents",
	}
	cmd.AddCommand(newPolicyCheckCmd())
	return cmd
}

func newPolicyCheckCmd() *cobra.Command {
	var (
		minConfidence    float64
		reviewConfidence float64
	)
	cmd := &cobra.Command{
		Use:   "check <file>",
		Short: "Parse a YAML policy file and list entries that need attention",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			policies, err := file.LoadFile(args[0])
			if err != nil {
				return err
			}
			now := time.Now()
			out := cmd.OutOrStdout()

			var flagged int
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSUBJECT\tPURPOSE\tCONFIDENCE\tSTATUS")
			for _, p := range policies {
				status := policyStatus(p, now, minConfidence, reviewConfidence)
				if status == "" {
					continue
				}
				flagged++
				fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%s\n", p.ID, p.SubjectID, p.Purpose, p.ConfidenceScore, status)
			}

			if flagged == 0 {
				fmt.Fprintf(out, "%d policies OK\n", len(policies))
				return nil
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "\n%d of %d policies need attention\n", flagged, len(policies))
			return nil
		},
	}
	cmd.Flags().Float64Var(&minConfidence, "min-confidence", consent.DefaultMinConfidence, "Score below which the gateway refuses a policy")
	cmd.Flags().Float64Var(&reviewConfidence, "review-confidence", consent.DefaultReviewConfidence, "Score below which a policy needs manual review")
	return cmd
}

// policyStatus returns an empty string for policies the gateway would serve
// without comment.
func policyStatus(p *consent.Policy, now time.Time, minConfidence, reviewConfidence float64) string {
	switch {
	case !p.IsActive(now):
		return "expired"
	case consent.NeedsReview(p.ConfidenceScore, reviewConfidence):
		return "needs review"
	case p.ConfidenceScore < minConfidence:
		return "below minimum confidence"
	default:
		return ""
	}
}
