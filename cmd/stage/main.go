// Package main implements the stage daemon: it drains the arrival queue in
// job order, applying each archived package to the warehouse.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/lib/pq"

	"github.com/nucleus/cdc-core/internal/blobstore"
	"github.com/nucleus/cdc-core/internal/config"
	"github.com/nucleus/cdc-core/internal/queue"
	"github.com/nucleus/cdc-core/internal/schedule"
	"github.com/nucleus/cdc-core/internal/sqldb"
	"github.com/nucleus/cdc-core/internal/stage"
)

func main() {
	onetime := flag.Bool("onetime", false, "run a single poll cycle and exit")
	nowait := flag.Bool("nowait", false, "skip the initial poll wait")
	flag.Parse()

	cfg := config.LoadStageConfig()
	archiveStore, err := blobstore.NewS3Store(cfg.Archive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stage: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	control, err := queue.OpenPostgres(ctx, cfg.ControlDSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stage: %v\n", err)
		os.Exit(1)
	}
	defer control.Close()

	opts := schedule.Options{
		Interval: time.Duration(cfg.PollSeconds) * time.Second,
		OneTime:  *onetime,
		NoWait:   *nowait,
	}
	err = schedule.Loop(ctx, opts, func(ctx context.Context) error {
		// A fresh warehouse connection per cycle; the queue is drained
		// before it is released.
		client, err := sqldb.Open(cfg.TargetPlatform, cfg.TargetDSN)
		if err != nil {
			return err
		}
		defer client.Close()

		applier := &stage.Applier{
			TargetSchema: cfg.TargetSchema,
			Archive:      archiveStore,
			Target:       client,
			Queue:        control,
			WorkFolder:   cfg.WorkFolder,
		}
		for {
			applied, err := applier.ApplyNext(ctx)
			if err != nil {
				return err
			}
			if !applied {
				return nil
			}
		}
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "stage: %v\n", err)
		os.Exit(1)
	}
}
