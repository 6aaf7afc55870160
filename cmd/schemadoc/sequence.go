package main

import (
	"github.com/spf13/cobra"

	"github.com/schemadoc/schemadoc/internal/api"
)

var (
	sequenceActor  string
	sequenceReason string
)

var sequenceCmd = &cobra.Command{
	Use:   "sequence",
	Short: "Inspect and manage document number counters",
}

var sequenceStatusCmd = &cobra.Command{
	Use:   "status <category>",
	Short: "Show a counter's current value and remaining capacity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := buildServices(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.close()

		counter, err := svc.issuer.Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return api.Output(counter)
	},
}

var sequenceResetCmd = &cobra.Command{
	Use:   "reset <category>",
	Short: "Reset a counter to zero, recording who and why",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := buildServices(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.close()

		if err := svc.issuer.Reset(cmd.Context(), args[0], sequenceActor, sequenceReason); err != nil {
			return err
		}
		counter, err := svc.issuer.Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return api.Output(counter)
	},
}

var sequenceAuditsCmd = &cobra.Command{
	Use:   "audits <category>",
	Short: "List reset audit records for a category",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := buildServices(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.close()

		audits, err := svc.store.ListAudits(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return api.Output(audits)
	},
}

func init() {
	sequenceResetCmd.Flags().StringVar(&sequenceActor, "actor", "", "who is performing the reset (required)")
	sequenceResetCmd.Flags().StringVar(&sequenceReason, "reason", "", "why the counter is being reset")
	_ = sequenceResetCmd.MarkFlagRequired("actor")

	sequenceCmd.AddCommand(sequenceStatusCmd, sequenceResetCmd, sequenceAuditsCmd)
}
