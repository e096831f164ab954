// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"net/http"

	"github.com/sapcc/go-bits/httpext"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/osext"
	"github.com/spf13/cobra"

	connectorcmd "github.com/sapcc/dsx-connect/cmd/connector"
	hubcmd "github.com/sapcc/dsx-connect/cmd/hub"
	"github.com/sapcc/dsx-connect/internal/dsx"

	// include all known driver implementations
	_ "github.com/sapcc/dsx-connect/internal/drivers/memory"
	_ "github.com/sapcc/dsx-connect/internal/drivers/redis"
	_ "github.com/sapcc/dsx-connect/internal/drivers/sqldb"
	_ "github.com/sapcc/dsx-connect/internal/drivers/tinydb"
)

func main() {
	logg.ShowDebug = osext.GetenvBool("DSXCONNECT_DEBUG")
	wrap := httpext.WrapTransport(&http.DefaultTransport)
	wrap.SetInsecureSkipVerify(osext.GetenvBool("DSXCONNECT_INSECURE")) // for debugging with mitmproxy etc. (DO NOT SET IN PRODUCTION)
	wrap.SetOverrideUserAgent(dsx.Component, dsx.Version)

	rootCmd := &cobra.Command{
		Use:     "dsx-connect",
		Short:   "Malware scanning for file repositories",
		Long:    "dsx-connect has items from file repositories scanned by DSXA. This binary contains both the hub and the connectors.",
		Version: dsx.Version,
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}
	hubcmd.AddCommandTo(rootCmd)
	connectorcmd.AddCommandTo(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		logg.Fatal(err.Error())
	}
}
