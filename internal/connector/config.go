// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package connector

import (
	"fmt"
	"math/rand/v2"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/osext"

	"github.com/sapcc/dsx-connect/internal/dsx"
)

// Configuration contains the settings that all connectors share. Settings
// specific to one kind of connector are parsed by that connector's package.
type Configuration struct {
	Name string `json:"name"`
	// Base URL under which the hub can reach this connector, without the connector ID.
	ConnectorURL string `json:"connector_url"`
	// Base URL of the hub.
	HubURL                  string         `json:"dsx_connect_url"`
	TestMode                bool           `json:"test_mode"`
	ItemAction              dsx.ItemAction `json:"item_action"`
	ConcurrentProcessingMax int            `json:"concurrent_processing_max"`
	ListenAddress           string         `json:"listen_address"`
}

// ParseConfiguration obtains a Configuration from the DSXCONNECTOR_*
// environment variables. Variables that are not set take their value from
// the given defaults.
func ParseConfiguration(defaults Configuration) (Configuration, error) {
	logg.Debug("parsing connector configuration...")

	cfg := Configuration{
		Name:         osext.GetenvOrDefault("DSXCONNECTOR_NAME", defaults.Name),
		ConnectorURL: strings.TrimSuffix(osext.GetenvOrDefault("DSXCONNECTOR_CONNECTOR_URL", defaults.ConnectorURL), "/"),
		HubURL:       strings.TrimSuffix(osext.GetenvOrDefault("DSXCONNECTOR_DSX_CONNECT_URL", defaults.HubURL), "/"),
		TestMode:     defaults.TestMode,
	}
	if os.Getenv("DSXCONNECTOR_TEST_MODE") != "" {
		cfg.TestMode = osext.GetenvBool("DSXCONNECTOR_TEST_MODE")
	}

	var err error
	cfg.ItemAction, err = dsx.ParseItemAction(osext.GetenvOrDefault("DSXCONNECTOR_ITEM_ACTION", string(defaults.ItemAction)))
	if err != nil {
		return Configuration{}, fmt.Errorf("invalid value for DSXCONNECTOR_ITEM_ACTION: %w", err)
	}

	cfg.ConcurrentProcessingMax = defaults.ConcurrentProcessingMax
	if str := os.Getenv("DSXCONNECTOR_CONCURRENT_PROCESSING_MAX"); str != "" {
		cfg.ConcurrentProcessingMax, err = strconv.Atoi(str)
		if err != nil || cfg.ConcurrentProcessingMax < 1 {
			return Configuration{}, fmt.Errorf("invalid value for DSXCONNECTOR_CONCURRENT_PROCESSING_MAX: %q", str)
		}
	}
	if cfg.ConcurrentProcessingMax < 1 {
		cfg.ConcurrentProcessingMax = 10
	}

	for key, value := range map[string]string{"DSXCONNECTOR_CONNECTOR_URL": cfg.ConnectorURL, "DSXCONNECTOR_DSX_CONNECT_URL": cfg.HubURL} {
		u, err := url.Parse(value)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return Configuration{}, fmt.Errorf("invalid value for %s: %q is not an http(s) URL", key, value)
		}
	}

	// by default, listen on the port from the connector URL
	cfg.ListenAddress = os.Getenv("DSXCONNECTOR_LISTEN_ADDRESS")
	if cfg.ListenAddress == "" {
		u, _ := url.Parse(cfg.ConnectorURL) // already validated above
		port := u.Port()
		if port == "" {
			port = map[string]string{"http": "80", "https": "443"}[u.Scheme]
		}
		cfg.ListenAddress = net.JoinHostPort("", port)
	}

	return cfg, nil
}

// Identity identifies a running connector instance.
type Identity struct {
	Name string
	// Name plus a random suffix, e.g. "filesystem-connector-0042".
	ID string
	// The connector URL from the Configuration. The hub reaches this instance at BaseURL + "/" + ID.
	BaseURL  string
	HubURL   string
	TestMode bool
}

// NewIdentity assigns a fresh ID to a connector instance with the given configuration.
func NewIdentity(cfg Configuration) Identity {
	return Identity{
		Name:     cfg.Name,
		ID:       fmt.Sprintf("%s-%04d", cfg.Name, rand.IntN(10000)), //nolint:gosec // not security-relevant
		BaseURL:  cfg.ConnectorURL,
		HubURL:   cfg.HubURL,
		TestMode: cfg.TestMode,
	}
}

// URL returns the URL under which the hub reaches this connector instance.
func (i Identity) URL() string {
	return i.BaseURL + "/" + i.ID
}
