// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package hubcmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/httpext"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/must"
	"github.com/spf13/cobra"

	"github.com/sapcc/dsx-connect/internal/dsx"
	"github.com/sapcc/dsx-connect/internal/hub"
)

// AddCommandTo mounts this command into the command hierarchy.
func AddCommandTo(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "hub",
		Short: "Run the dsx-connect hub.",
		Long:  "Run the dsx-connect hub, which accepts scan requests from connectors and has them scanned by DSXA. Configuration is read from DSXCONNECT_* environment variables.",
		Args:  cobra.NoArgs,
		Run:   run,
	}
	parent.AddCommand(cmd)
}

func run(cmd *cobra.Command, args []string) {
	_ = args

	cfg := must.Return(dsx.ParseConfiguration())
	cfgSource := dsx.NewConfigurationSource(cfg)
	ctx := httpext.ContextWithSIGINT(cmd.Context(), 10*time.Second)

	results := must.Return(dsx.NewResultStore(cfg.ResultsDatabase))
	defer results.Close()
	stats := must.Return(dsx.NewStatsStore(cfg.ResultsDatabase.ForStats()))
	defer stats.Close()
	queue := must.Return(dsx.NewTaskQueue(cfg.TaskQueue))
	defer queue.Close()

	// start background goroutines
	background := dsx.NewBackgroundTasks(ctx)
	defer background.Shutdown()
	worker := hub.NewWorker(cfgSource, results, hub.NewStatsWorker(stats))
	background.Go(func(ctx context.Context) {
		err := worker.Run(ctx, queue, cfg.TaskQueue.Workers)
		if err != nil {
			logg.Error("scan workers failed: %s", err.Error())
		}
	})
	background.Go(func(ctx context.Context) {
		reloadOnSIGHUP(ctx, cfgSource)
	})

	// wire up HTTP handlers
	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"HEAD", "GET", "POST"},
		AllowedHeaders: []string{"Content-Type", "User-Agent"},
	})
	handler := httpapi.Compose(
		hub.NewAPI(cfgSource, queue, results, stats, worker, background),
		httpapi.HealthCheckAPI{SkipRequestLog: true},
		httpapi.WithGlobalMiddleware(corsMiddleware.Handler),
	)
	mux := http.NewServeMux()
	mux.Handle("/", handler)
	mux.Handle("/metrics", promhttp.Handler())

	// start HTTP server
	logg.Info("listening on %s with %d scan workers on a %s queue", cfg.ListenAddress, cfg.TaskQueue.Workers, cfg.TaskQueue.Type)
	must.Succeed(httpext.ListenAndServeContext(ctx, cfg.ListenAddress, mux))
}

// Settings consulted per scan task (scanner URL, severity threshold) can be
// changed without a restart by editing DSXCONNECT_ENV_FILE and sending SIGHUP.
func reloadOnSIGHUP(ctx context.Context, cfgSource *dsx.ConfigurationSource) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP)
	defer signal.Stop(signals)

	for {
		select {
		case <-ctx.Done():
			return
		case <-signals:
			err := cfgSource.Reload()
			if err != nil {
				logg.Error("cannot reload configuration: %s", err.Error())
				continue
			}
			logg.Info("configuration reloaded")
		}
	}
}
