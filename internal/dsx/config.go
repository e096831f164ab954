// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package dsx

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/osext"
)

// Component is the name that this application identifies as.
const Component = "dsx-connect"

// Version is filled at build time with the -X linker flag.
var Version = "rolling"

// DatabaseConfiguration selects and configures the backend of the
// ResultStore and StatsStore.
type DatabaseConfiguration struct {
	// One of "memory", "tinydb", "sqlite3", "postgres" or "mongodb".
	Type string `json:"type"`
	// Meaning depends on Type: a file path for the embedded backends, a
	// connection URL for postgres, a key prefix for mongodb.
	Location string `json:"loc"`
	// -1 retains everything, 0 retains nothing, N > 0 retains the last N results.
	Retain            int    `json:"retain"`
	ScanStatsLocation string `json:"scan_stats_db"`

	// Only used by the mongodb backend.
	Redis *redis.Options `json:"-"`
}

// ForStats returns the configuration for the StatsStore that goes along with
// this configuration.
func (c DatabaseConfiguration) ForStats() DatabaseConfiguration {
	c.Location = c.ScanStatsLocation
	c.Retain = -1
	return c
}

// TaskQueueConfiguration appears in type Configuration.
type TaskQueueConfiguration struct {
	// Either "memory" or "redis".
	Type       string `json:"type"`
	Name       string `json:"name"`
	Workers    int    `json:"workers"`
	BufferSize int    `json:"buffer_size"`

	// Only used by the redis queue.
	Redis *redis.Options `json:"-"`
}

// Configuration contains all configuration values of the hub.
type Configuration struct {
	ResultsDatabase   DatabaseConfiguration  `json:"results_database"`
	ScanBinaryURL     string                 `json:"scan_binary_url"`
	TaskQueue         TaskQueueConfiguration `json:"taskqueue"`
	SeverityThreshold Severity               `json:"item_action_severity_threshold"`
	ListenAddress     string                 `json:"listen_address"`
}

// ParseConfiguration obtains a Configuration from the DSXCONNECT_*
// environment variables. If DSXCONNECT_ENV_FILE names a file of KEY=VALUE
// lines, its values are loaded into the environment first and take
// precedence over the inherited ones. Every call reads the file anew.
func ParseConfiguration() (Configuration, error) {
	logg.Debug("parsing configuration...")

	envFile := os.Getenv("DSXCONNECT_ENV_FILE")
	if envFile != "" {
		err := godotenv.Overload(envFile)
		if err != nil {
			return Configuration{}, fmt.Errorf("cannot load DSXCONNECT_ENV_FILE: %w", err)
		}
	}

	retain, err := getenvInt("DSXCONNECT_RESULTS_DATABASE__RETAIN", 1000)
	if err != nil {
		return Configuration{}, err
	}
	workers, err := getenvInt("DSXCONNECT_TASKQUEUE__WORKERS", 4)
	if err != nil {
		return Configuration{}, err
	}
	bufferSize, err := getenvInt("DSXCONNECT_TASKQUEUE__BUFFER_SIZE", 1000)
	if err != nil {
		return Configuration{}, err
	}
	threshold, err := ParseSeverity(osext.GetenvOrDefault("DSXCONNECT_SECURITY__ITEM_ACTION_SEVERITY_THRESHOLD", string(SeverityMedium)))
	if err != nil {
		return Configuration{}, fmt.Errorf("invalid value for DSXCONNECT_SECURITY__ITEM_ACTION_SEVERITY_THRESHOLD: %w", err)
	}

	cfg := Configuration{
		ResultsDatabase: DatabaseConfiguration{
			Type:              osext.GetenvOrDefault("DSXCONNECT_RESULTS_DATABASE__TYPE", "tinydb"),
			Location:          osext.GetenvOrDefault("DSXCONNECT_RESULTS_DATABASE__LOC", "data/dsx-connect.db.json"),
			Retain:            retain,
			ScanStatsLocation: osext.GetenvOrDefault("DSXCONNECT_RESULTS_DATABASE__SCAN_STATS_DB", "data/scan-stats.db.json"),
		},
		ScanBinaryURL: osext.GetenvOrDefault("DSXCONNECT_SCANNER__SCAN_BINARY_URL", "http://0.0.0.0:8080/scan/binary/v2"),
		TaskQueue: TaskQueueConfiguration{
			Type:       osext.GetenvOrDefault("DSXCONNECT_TASKQUEUE__TYPE", "memory"),
			Name:       osext.GetenvOrDefault("DSXCONNECT_TASKQUEUE__NAME", "dsx-connect:tasks"),
			Workers:    workers,
			BufferSize: bufferSize,
		},
		SeverityThreshold: threshold,
		ListenAddress:     osext.GetenvOrDefault("DSXCONNECT_LISTEN_ADDRESS", ":8586"),
	}
	if cfg.TaskQueue.Workers < 1 {
		return Configuration{}, fmt.Errorf("invalid value for DSXCONNECT_TASKQUEUE__WORKERS: %d", cfg.TaskQueue.Workers)
	}

	if cfg.ResultsDatabase.Type == "mongodb" || cfg.TaskQueue.Type == "redis" {
		opts, err := GetRedisOptions("DSXCONNECT_REDIS")
		if err != nil {
			return Configuration{}, err
		}
		cfg.ResultsDatabase.Redis = opts
		cfg.TaskQueue.Redis = opts
	}

	return cfg, nil
}

// GetRedisOptions returns a redis.Options by getting the required parameters
// from environment variables:
//
//	REDIS_PASSWORD, REDIS_HOSTNAME, REDIS_PORT, and REDIS_DB_NUM.
//
// The environment variable keys are prefixed with the provided prefix.
func GetRedisOptions(prefix string) (*redis.Options, error) {
	pass := os.Getenv(prefix + "_PASSWORD")
	host := osext.GetenvOrDefault(prefix+"_HOSTNAME", "localhost")
	port := osext.GetenvOrDefault(prefix+"_PORT", "6379")
	dbNum := osext.GetenvOrDefault(prefix+"_DB_NUM", "0")
	db, err := strconv.Atoi(dbNum)
	if err != nil {
		return nil, fmt.Errorf("invalid value for %s: %q", prefix+"_DB_NUM", dbNum)
	}

	return &redis.Options{
		Network:    "tcp",
		Password:   pass,
		Addr:       net.JoinHostPort(host, port),
		ClientName: Component,
		DB:         db,
	}, nil
}

func getenvInt(key string, defaultValue int) (int, error) {
	str := strings.TrimSpace(os.Getenv(key))
	if str == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(str)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q", key, str)
	}
	return value, nil
}

// ConfigurationSource holds the current Configuration and can re-read it
// from the environment. Components that consult the configuration on every
// request (instead of only at startup) take their values from here.
type ConfigurationSource struct {
	mutex   sync.RWMutex
	current Configuration
}

// NewConfigurationSource wraps an already parsed Configuration.
func NewConfigurationSource(cfg Configuration) *ConfigurationSource {
	return &ConfigurationSource{current: cfg}
}

// Get returns the current Configuration.
func (s *ConfigurationSource) Get() Configuration {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.current
}

// Reload re-reads DSXCONNECT_ENV_FILE and the environment. Only settings
// that are consulted per request (scanner URL, severity threshold) take
// effect without a restart.
// On error, the previous Configuration stays in place.
func (s *ConfigurationSource) Reload() error {
	cfg, err := ParseConfiguration()
	if err != nil {
		return err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.current = cfg
	return nil
}
