// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package connectorcmd

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/httpext"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/must"
	"github.com/spf13/cobra"

	"github.com/sapcc/dsx-connect/internal/connector"
	"github.com/sapcc/dsx-connect/internal/connectors/awss3"
	"github.com/sapcc/dsx-connect/internal/connectors/filesystem"
	"github.com/sapcc/dsx-connect/internal/connectors/webhook"
)

type setupFunc func(ctx context.Context) (connector.Configuration, connector.Handlers, error)

// AddCommandTo mounts this command into the command hierarchy.
func AddCommandTo(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "connector",
		Short: "Run a dsx-connect connector.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}
	for name, info := range map[string]struct {
		Short string
		Setup setupFunc
	}{
		"filesystem": {"Run the connector for a local directory tree.", filesystem.Setup},
		"aws-s3":     {"Run the connector for an AWS S3 bucket.", awss3.Setup},
		"webhook":    {"Run the connector that turns webhook events into scan requests.", webhook.Setup},
	} {
		cmd.AddCommand(&cobra.Command{
			Use:   name,
			Short: info.Short,
			Long:  info.Short + " Configuration is read from DSXCONNECTOR_* environment variables.",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				run(cmd, info.Setup)
			},
		})
	}
	parent.AddCommand(cmd)
}

func run(cmd *cobra.Command, setup setupFunc) {
	ctx := httpext.ContextWithSIGINT(cmd.Context(), 10*time.Second)
	cfg, handlers, err := setup(ctx)
	if err != nil {
		logg.Fatal(err.Error())
	}

	c := connector.New(connector.NewIdentity(cfg), cfg.ConcurrentProcessingMax, handlers)
	must.Succeed(c.Startup(ctx))

	// wire up HTTP handlers
	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"HEAD", "GET", "POST"},
		AllowedHeaders: []string{"Content-Type", "User-Agent"},
	})
	handler := httpapi.Compose(
		connector.NewAPI(c),
		httpapi.HealthCheckAPI{SkipRequestLog: true},
		httpapi.WithGlobalMiddleware(corsMiddleware.Handler),
	)
	mux := http.NewServeMux()
	mux.Handle("/", handler)
	mux.Handle("/metrics", promhttp.Handler())

	// start HTTP server
	logg.Info("connector %s listening on %s (item action: %s)", c.Identity.ID, cfg.ListenAddress, cfg.ItemAction)
	err = httpext.ListenAndServeContext(ctx, cfg.ListenAddress, mux)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	must.Succeed(c.Shutdown(shutdownCtx))
	must.Succeed(err)
}
