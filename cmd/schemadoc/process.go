package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/schemadoc/schemadoc/internal/api"
	"github.com/schemadoc/schemadoc/internal/docmeta"
)

var processSource string

// descriptorFile is the on-disk batch submission format.
type descriptorFile struct {
	Items []docmeta.ObjectDescriptor `yaml:"items"`
}

var processCmd = &cobra.Command{
	Use:   "process <descriptors.yaml>",
	Short: "Submit a batch of object descriptors and wait for it to finish",
	Long: `Process reads a YAML file of object descriptors, submits them as one
batch and blocks until the batch reaches a terminal state. Ctrl-C cancels
the batch: unstarted items are marked cancelled, in-flight generation
calls are allowed to finish.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read descriptor file: %w", err)
		}
		var file descriptorFile
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return fmt.Errorf("parse descriptor file: %w", err)
		}

		svc, err := buildServices(ctx)
		if err != nil {
			return err
		}
		defer svc.close()

		source := processSource
		if source == "" {
			source = args[0]
		}

		job, err := svc.coordinator.Submit(ctx, source, file.Items)
		if err != nil {
			return err
		}
		svc.logger.Info("batch submitted", "batch", job.ID, "items", job.Total)

		done := make(chan struct{})
		go func() {
			svc.coordinator.Wait(job.ID)
			close(done)
		}()

		select {
		case <-ctx.Done():
			if err := svc.coordinator.Cancel(job.ID); err == nil {
				svc.logger.Info("cancelling batch, draining in-flight items")
			}
			<-done
		case <-done:
		}

		final, err := svc.coordinator.Status(cmd.Context(), job.ID)
		if err != nil {
			return err
		}
		return api.Output(final)
	},
}

func init() {
	processCmd.Flags().StringVar(&processSource, "source", "", "source label for the batch (default: file name)")
}
