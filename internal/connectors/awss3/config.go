// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package awss3

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/osext"

	"github.com/sapcc/dsx-connect/internal/connector"
	"github.com/sapcc/dsx-connect/internal/dsx"
)

// Configuration contains the settings of the S3 connector.
type Configuration struct {
	connector.Configuration
	Bucket    string `json:"s3_bucket"`
	Prefix    string `json:"s3_prefix"`
	Recursive bool   `json:"s3_recursive"`
	// If set, talk to this S3-compatible endpoint instead of AWS (with path-style addressing).
	EndpointURL string `json:"s3_endpoint_url"`
	// Malicious objects are moved below this prefix when the item action is "move" or "move_tag".
	ItemActionMovePrefix string `json:"item_action_move_prefix"`
}

var defaults = connector.Configuration{
	Name:         "aws-s3-connector",
	ConnectorURL: "http://0.0.0.0:8591",
	HubURL:       "http://0.0.0.0:8586",
	ItemAction:   dsx.ItemActionMoveTag,
}

// ParseConfiguration obtains a Configuration from the environment.
func ParseConfiguration() (Configuration, error) {
	base, err := connector.ParseConfiguration(defaults)
	if err != nil {
		return Configuration{}, err
	}
	cfg := Configuration{
		Configuration:        base,
		Prefix:               os.Getenv("DSXCONNECTOR_S3_PREFIX"),
		Recursive:            true,
		EndpointURL:          os.Getenv("DSXCONNECTOR_S3_ENDPOINT_URL"),
		ItemActionMovePrefix: strings.Trim(osext.GetenvOrDefault("DSXCONNECTOR_ITEM_ACTION_MOVE_PREFIX", "dsxconnect-quarantine"), "/"),
	}
	if os.Getenv("DSXCONNECTOR_S3_RECURSIVE") != "" {
		cfg.Recursive = osext.GetenvBool("DSXCONNECTOR_S3_RECURSIVE")
	}
	cfg.Bucket, err = osext.NeedGetenv("DSXCONNECTOR_S3_BUCKET")
	if err != nil {
		return Configuration{}, err
	}
	if cfg.ItemActionMovePrefix == "" {
		return Configuration{}, fmt.Errorf("invalid value for DSXCONNECTOR_ITEM_ACTION_MOVE_PREFIX: must not be empty")
	}
	return cfg, nil
}

// NewClient builds an S3 client using the default AWS credential chain.
func NewClient(ctx context.Context, cfg Configuration) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot load AWS configuration: %w", err)
	}
	if awsCfg.Region == "" {
		awsCfg.Region = "us-east-1"
	}

	var opts []func(*s3.Options)
	if cfg.EndpointURL != "" {
		logg.Debug("using S3 endpoint %s", cfg.EndpointURL)
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		})
	}
	return s3.NewFromConfig(awsCfg, opts...), nil
}

// Setup builds the S3 connector from the environment.
func Setup(ctx context.Context) (connector.Configuration, connector.Handlers, error) {
	cfg, err := ParseConfiguration()
	if err != nil {
		return connector.Configuration{}, connector.Handlers{}, err
	}
	client, err := NewClient(ctx, cfg)
	if err != nil {
		return connector.Configuration{}, connector.Handlers{}, err
	}
	return cfg.Configuration, NewRepository(cfg, client).Handlers(), nil
}
