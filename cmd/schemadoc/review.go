package main

import (
	"github.com/spf13/cobra"

	"github.com/schemadoc/schemadoc/internal/api"
	"github.com/schemadoc/schemadoc/internal/review"
)

var (
	reviewBatchID  string
	reviewLowOnly  bool
	reviewLimit    int
	reviewReviewer string
	reviewReason   string
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Work the human-review backlog",
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List items awaiting review, oldest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := buildServices(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.close()

		items, err := svc.queue.List(cmd.Context(), review.Filter{
			BatchID:           reviewBatchID,
			LowConfidenceOnly: reviewLowOnly,
			Limit:             reviewLimit,
		})
		if err != nil {
			return err
		}
		return api.Output(items)
	},
}

var reviewApproveCmd = &cobra.Command{
	Use:   "approve <item-id>...",
	Short: "Approve review items, completing them with a document number",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := buildServices(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.close()

		n, err := svc.queue.Approve(cmd.Context(), args, reviewReviewer)
		if err != nil {
			return err
		}
		return api.Output(map[string]int{"approved": n})
	},
}

var reviewRejectCmd = &cobra.Command{
	Use:   "reject <item-id>...",
	Short: "Reject review items, recording the reason",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := buildServices(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.close()

		n, err := svc.queue.Reject(cmd.Context(), args, reviewReviewer, reviewReason)
		if err != nil {
			return err
		}
		return api.Output(map[string]int{"rejected": n})
	},
}

func init() {
	reviewListCmd.Flags().StringVar(&reviewBatchID, "batch", "", "restrict to one batch")
	reviewListCmd.Flags().BoolVar(&reviewLowOnly, "low", false, "only low-confidence items")
	reviewListCmd.Flags().IntVar(&reviewLimit, "limit", 0, "maximum items to list (0 = all)")

	reviewApproveCmd.Flags().StringVar(&reviewReviewer, "reviewer", "", "reviewer identity (required)")
	_ = reviewApproveCmd.MarkFlagRequired("reviewer")

	reviewRejectCmd.Flags().StringVar(&reviewReviewer, "reviewer", "", "reviewer identity (required)")
	reviewRejectCmd.Flags().StringVar(&reviewReason, "reason", "", "why the document was rejected")
	_ = reviewRejectCmd.MarkFlagRequired("reviewer")

	reviewCmd.AddCommand(reviewListCmd, reviewApproveCmd, reviewRejectCmd)
}
