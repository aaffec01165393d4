package main

import (
	"fmt"

	"patch-tiler/internal/config"
	"patch-tiler/internal/logger"
	"patch-tiler/internal/pipeline"
	"patch-tiler/internal/worker"

	"github.com/spf13/cobra"
)

func newTileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tile",
		Short: "Cut every image into labeled, variance-filtered patches",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			log := logger.New(cfg.LogLevel)
			launcher, err := pipeline.NewLauncher(cfg, resolveBackend, log)
			if err != nil {
				return err
			}
			res, err := pipeline.RunTile(cmd.Context(), cfg, launcher, log)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Output)
			return nil
		},
	}
	config.RegisterTile(cmd.Flags())
	return cmd
}

func newDecodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode",
		Short: "Flatten every image to a fixed-size greyscale row",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			log := logger.New(cfg.LogLevel)
			launcher, err := pipeline.NewLauncher(cfg, resolveBackend, log)
			if err != nil {
				return err
			}
			results, err := pipeline.RunDecode(cmd.Context(), cfg, launcher, log)
			if err != nil {
				return err
			}
			for _, res := range results {
				fmt.Fprintln(cmd.OutOrStdout(), res.Output)
			}
			return nil
		},
	}
	config.RegisterDecode(cmd.Flags())
	return cmd
}

// newWorkerCmd is the entry point of worker processes started by the
// dispatcher. It is not meant to be run by hand.
func newWorkerCmd() *cobra.Command {
	var manifest string
	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Run one chunk from its task manifest",
		Hidden: true,
		Args:   noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			task, err := worker.ReadManifest(manifest)
			if err != nil {
				return err
			}
			ops, err := resolveBackend(task.Backend)
			if err != nil {
				return err
			}
			log := logger.New(task.LogLevel).With("run " + task.RunID)
			_, err = worker.Run(cmd.Context(), task, ops, log)
			return err
		},
	}
	cmd.Flags().StringVar(&manifest, "manifest", "", "task manifest written by the dispatcher")
	cmd.MarkFlagRequired("manifest")
	return cmd
}
