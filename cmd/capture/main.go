// Package main implements the capture daemon: it polls the source database
// on a fixed cadence, extracts each configured table through its CDC window,
// and lands the sealed package in blob storage.
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
	"github.com/nucleus/cdc-core/internal/capture"
	"github.com/nucleus/cdc-core/internal/config"
	"github.com/nucleus/cdc-core/internal/schedule"
	"github.com/nucleus/cdc-core/internal/sqldb"
	"github.com/nucleus/cdc-core/internal/watermark"
)

func main() {
	onetime := flag.Bool("onetime", false, "run a single capture job and exit")
	nowait := flag.Bool("nowait", false, "skip the initial poll wait")
	notransfer := flag.Bool("notransfer", false, "seal the package but do not transfer or advance")
	flag.Parse()

	cfg := config.LoadCaptureConfig()
	dataset, err := config.LoadDataset(cfg.DatasetFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "capture: %v\n", err)
		os.Exit(1)
	}

	landing, err := blobstore.NewS3Store(cfg.Landing)
	if err != nil {
		fmt.Fprintf(os.Stderr, "capture: %v\n", err)
		os.Exit(1)
	}
	recovery, err := blobstore.NewS3Store(cfg.Recovery)
	if err != nil {
		fmt.Fprintf(os.Stderr, "capture: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := landing.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "capture: landing storage: %v\n", err)
		os.Exit(1)
	}

	opts := schedule.Options{
		Interval: time.Duration(cfg.PollSeconds) * time.Second,
		OneTime:  *onetime,
		NoWait:   *nowait,
	}
	err = schedule.Loop(ctx, opts, func(ctx context.Context) error {
		// A fresh connection per job so the source never holds an idle
		// session across the poll interval.
		client, err := sqldb.Open(cfg.SourcePlatform, cfg.SourceDSN)
		if err != nil {
			return err
		}
		defer client.Close()

		o := &capture.Orchestrator{
			Dataset:     dataset.Dataset,
			Schema:      dataset.Schema,
			BatchSize:   dataset.BatchSize,
			Tables:      dataset.Tables,
			Source:      capture.NewSQLSource(client),
			Landing:     landing,
			Recovery:    recovery,
			State:       watermark.NewStore(cfg.StateFolder),
			WorkFolder:  cfg.WorkFolder,
			StateFolder: cfg.StateFolder,
			Options:     capture.Options{NoTransfer: *notransfer},
		}
		return o.Run(ctx)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "capture: %v\n", err)
		os.Exit(1)
	}
}
