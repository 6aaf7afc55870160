package main

import (
	"github.com/spf13/cobra"

	"github.com/schemadoc/schemadoc/internal/api"
	"github.com/schemadoc/schemadoc/internal/store"
)

var batchesLimit int

var batchesCmd = &cobra.Command{
	Use:   "batches",
	Short: "Inspect and maintain batch jobs",
}

var batchesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent batches",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := buildServices(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.close()

		jobs, err := svc.store.ListBatches(cmd.Context(), batchesLimit)
		if err != nil {
			return err
		}
		return api.Output(jobs)
	},
}

var batchesStatusCmd = &cobra.Command{
	Use:   "status <batch-id>",
	Short: "Show one batch with its per-item states",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := buildServices(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.close()

		job, err := svc.store.GetBatch(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		items, err := svc.store.ListItems(cmd.Context(), store.ItemFilter{BatchID: args[0]})
		if err != nil {
			return err
		}
		return api.Output(map[string]any{
			"batch": job,
			"items": items,
		})
	},
}

var batchesSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete batches past the retention window and expired cache entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := buildServices(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.close()

		removed, err := svc.coordinator.Sweep(cmd.Context(), svc.retention())
		if err != nil {
			return err
		}
		return api.Output(map[string]int{"removed_batches": removed})
	},
}

func init() {
	batchesListCmd.Flags().IntVar(&batchesLimit, "limit", 50, "maximum number of batches to list")
	batchesCmd.AddCommand(batchesListCmd, batchesStatusCmd, batchesSweepCmd)
}
