// Package dispatch starts one worker per chunk, all at once, and waits for
// every one of them before reporting.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	tileimage "patch-tiler/internal/image"
	"patch-tiler/internal/logger"
	"patch-tiler/internal/worker"
	"patch-tiler/pkg/dataset"

	"golang.org/x/sync/errgroup"
)

// Launcher runs the worker for the manifest of chunk index and blocks
// until it finishes.
type Launcher interface {
	Launch(ctx context.Context, index int, manifest string) error
}

// ProcessLauncher runs each worker as a child process of the current
// binary: <Path> <Prefix...> worker --manifest <manifest>.
type ProcessLauncher struct {
	Path   string
	Prefix []string
	Env    []string // appended to the parent environment
	Stdout io.Writer
	Stderr io.Writer
}

// NewProcessLauncher re-executes the running binary with its symlinks
// resolved, so workers run the same build as the dispatcher.
func NewProcessLauncher() (*ProcessLauncher, error) {
	execPath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate executable: %w", err)
	}
	if realPath, err := filepath.EvalSymlinks(execPath); err == nil {
		execPath = realPath
	}
	return &ProcessLauncher{Path: execPath, Stdout: os.Stdout, Stderr: os.Stderr}, nil
}

// Launch implements Launcher. Cancelling ctx kills the child.
func (p *ProcessLauncher) Launch(ctx context.Context, index int, manifest string) error {
	args := append(append([]string{}, p.Prefix...), "worker", "--manifest", manifest)
	cmd := exec.CommandContext(ctx, p.Path, args...)
	cmd.Stdout = p.Stdout
	cmd.Stderr = p.Stderr
	if len(p.Env) > 0 {
		cmd.Env = append(os.Environ(), p.Env...)
	}
	err := cmd.Run()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("worker %d: %w", index, ctx.Err())
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// ExitCode is -1 when a signal ended the child.
		if exitErr.ExitCode() < 0 {
			return fmt.Errorf("worker %d: %s", index, exitErr.String())
		}
		return fmt.Errorf("worker %d exited with status %d", index, exitErr.ExitCode())
	}
	return fmt.Errorf("worker %d: %w", index, err)
}

// InProcessLauncher runs each worker on a goroutine of the current
// process. Workers share nothing but the logger output.
type InProcessLauncher struct {
	Resolve tileimage.Resolver
	Log     *logger.Logger
}

// Launch implements Launcher.
func (l *InProcessLauncher) Launch(ctx context.Context, index int, manifest string) error {
	task, err := worker.ReadManifest(manifest)
	if err != nil {
		return fmt.Errorf("worker %d: %w", index, err)
	}
	ops, err := l.Resolve(task.Backend)
	if err != nil {
		return fmt.Errorf("worker %d: %w", index, err)
	}
	if _, err := worker.Run(ctx, task, ops, l.Log); err != nil {
		return fmt.Errorf("worker %d: %w", index, err)
	}
	return nil
}

// Dispatcher fans chunk manifests out to a Launcher.
type Dispatcher struct {
	Launcher Launcher
	Log      *logger.Logger
}

// Run launches one worker per manifest and waits for all of them. A
// failing worker does not stop the others. Every failure is reported,
// in chunk order, wrapped in dataset.ErrWorkerFailed. Sinks of workers
// that succeeded are left in place.
func (d *Dispatcher) Run(ctx context.Context, manifests []string) error {
	start := time.Now()
	errs := make([]error, len(manifests))

	var g errgroup.Group
	for i, manifest := range manifests {
		i, manifest := i, manifest
		g.Go(func() error {
			if err := d.Launcher.Launch(ctx, i, manifest); err != nil {
				errs[i] = err
				d.Log.Error("%v", err)
			}
			return nil
		})
	}
	g.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d workers failed: %w", dataset.ErrWorkerFailed, failed, len(manifests), errors.Join(errs...))
	}
	d.Log.Debug("%d workers finished in %.2f s", len(manifests), time.Since(start).Seconds())
	return nil
}
