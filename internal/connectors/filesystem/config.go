// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package filesystem

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sapcc/go-bits/osext"

	"github.com/sapcc/dsx-connect/internal/connector"
	"github.com/sapcc/dsx-connect/internal/dsx"
)

// Configuration contains the settings of the filesystem connector.
type Configuration struct {
	connector.Configuration
	// File or directory that is scanned and monitored.
	Location     string `json:"location"`
	Recursive    bool   `json:"recursive"`
	ScanExisting bool   `json:"scan_existing"`
	Monitor      bool   `json:"monitor"`
	// Malicious files are moved here when the item action is "move".
	ItemActionMoveDir string `json:"item_action_move_dir"`
}

var defaults = connector.Configuration{
	Name:         "filesystem-connector",
	ConnectorURL: "http://0.0.0.0:8590",
	HubURL:       "http://0.0.0.0:8586",
	ItemAction:   dsx.ItemActionNothing,
}

// ParseConfiguration obtains a Configuration from the environment.
func ParseConfiguration() (Configuration, error) {
	base, err := connector.ParseConfiguration(defaults)
	if err != nil {
		return Configuration{}, err
	}
	cfg := Configuration{
		Configuration: base,
		Recursive:     getenvBoolOrDefault("DSXCONNECTOR_RECURSIVE", true),
		ScanExisting:  getenvBoolOrDefault("DSXCONNECTOR_SCAN_EXISTING", false),
		Monitor:       getenvBoolOrDefault("DSXCONNECTOR_MONITOR", true),
	}

	location, err := osext.NeedGetenv("DSXCONNECTOR_LOCATION")
	if err != nil {
		return Configuration{}, err
	}
	cfg.Location, err = absPath(location)
	if err != nil {
		return Configuration{}, fmt.Errorf("invalid value for DSXCONNECTOR_LOCATION: %w", err)
	}

	if moveDir := os.Getenv("DSXCONNECTOR_ITEM_ACTION_MOVE_DIR"); moveDir != "" {
		cfg.ItemActionMoveDir, err = absPath(moveDir)
		if err != nil {
			return Configuration{}, fmt.Errorf("invalid value for DSXCONNECTOR_ITEM_ACTION_MOVE_DIR: %w", err)
		}
	} else if cfg.ItemAction == dsx.ItemActionMove {
		return Configuration{}, errors.New("DSXCONNECTOR_ITEM_ACTION_MOVE_DIR must be set when DSXCONNECTOR_ITEM_ACTION is \"move\"")
	}
	return cfg, nil
}

func getenvBoolOrDefault(key string, defaultValue bool) bool {
	if os.Getenv(key) == "" {
		return defaultValue
	}
	return osext.GetenvBool(key)
}

// absPath expands a leading "~" and makes the path absolute.
func absPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Abs(path)
}

// Setup builds the filesystem connector from the environment.
func Setup(ctx context.Context) (connector.Configuration, connector.Handlers, error) {
	cfg, err := ParseConfiguration()
	if err != nil {
		return connector.Configuration{}, connector.Handlers{}, err
	}
	return cfg.Configuration, NewRepository(cfg).Handlers(), nil
}
