// Package main implements the archive daemon: it moves sealed packages from
// landing to the durable archive, logs their run statistics, and enqueues
// each package for staging.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nucleus/cdc-core/internal/archive"
	"github.com/nucleus/cdc-core/internal/blobstore"
	"github.com/nucleus/cdc-core/internal/config"
	"github.com/nucleus/cdc-core/internal/queue"
	"github.com/nucleus/cdc-core/internal/schedule"
)

func main() {
	onetime := flag.Bool("onetime", false, "run a single poll cycle and exit")
	nowait := flag.Bool("nowait", false, "skip the initial poll wait")
	flag.Parse()

	cfg := config.LoadArchiveConfig()
	if cfg.Dataset == "" {
		fmt.Fprintln(os.Stderr, "archive: CDC_DATASET is required")
		os.Exit(1)
	}

	landing, err := blobstore.NewS3Store(cfg.Landing)
	if err != nil {
		fmt.Fprintf(os.Stderr, "archive: %v\n", err)
		os.Exit(1)
	}
	archiveStore, err := blobstore.NewS3Store(cfg.Archive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "archive: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	control, err := queue.OpenPostgres(ctx, cfg.ControlDSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "archive: %v\n", err)
		os.Exit(1)
	}
	defer control.Close()

	pipeline := &archive.Pipeline{
		Dataset:    cfg.Dataset,
		Landing:    landing,
		Archive:    archiveStore,
		Queue:      control,
		WorkFolder: cfg.WorkFolder,
	}

	opts := schedule.Options{
		Interval: time.Duration(cfg.PollSeconds) * time.Second,
		OneTime:  *onetime,
		NoWait:   *nowait,
	}
	err = schedule.Loop(ctx, opts, func(ctx context.Context) error {
		_, err := pipeline.Poll(ctx)
		return err
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "archive: %v\n", err)
		os.Exit(1)
	}
}
