// Command patchtiler turns a directory of images into a CSV dataset of
// labeled patches, splitting the work across worker processes.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"patch-tiler/internal/config"
	"patch-tiler/internal/version"
	"patch-tiler/pkg/dataset"

	"github.com/spf13/cobra"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "patchtiler: %v\n", err)
		return dataset.ExitCode(err)
	}
	return 0
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "patchtiler",
		Short:         "Build patch datasets from image directories",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", dataset.ErrConfiguration, err)
	})
	config.RegisterPersistent(root.PersistentFlags())
	root.AddCommand(newTileCmd(), newDecodeCmd(), newWorkerCmd())
	return root
}

func noArgs(_ *cobra.Command, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("%w: unexpected arguments %q", dataset.ErrConfiguration, args)
	}
	return nil
}
