// Package config loads and hot-reloads driver configuration, grounded on
// the teacher's viper+fsnotify wiring in internal/config/config.go:
// file -> environment -> programmatic precedence, and a debounced
// OnConfigChange callback for settings that can change without a
// restart (log level, default execution profile).
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	DefaultPort               = 9042
	DefaultMaxPrepared        = 500
	DefaultRefreshSchemaDelay = 1000 * time.Millisecond

	// DefaultFileWriteDelay guards against the fsnotify event firing
	// before the editor has finished writing the file.
	DefaultFileWriteDelay = 150 * time.Millisecond
)

var (
	lastReload  time.Time
	reloadMutex sync.Mutex
)

// DefaultConfig returns the documented defaults from §6.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Cluster: ClusterConfig{
			ProtocolOptions: ProtocolOptions{
				Port:                          DefaultPort,
				MaxSchemaAgreementWaitSeconds: 10,
			},
			Pooling: PoolingConfig{
				HeartBeatIntervalMs: 30000,
				Warmup:              true,
				CoreConnectionsPerHost: map[string]int{
					"local":   2,
					"remote":  1,
					"ignored": 0,
				},
				MaxRequestsPerConnection: 2048,
				CoalescingThreshold:      65536,
			},
			SocketOptions: SocketConfig{
				ConnectTimeoutMs:            5000,
				ReadTimeoutMs:               12000,
				DefunctReadTimeoutThreshold: 64,
				KeepAlive:                   true,
				TCPNoDelay:                  true,
			},
			QueryOptions: QueryOptions{
				Consistency: "LOCAL_ONE",
				FetchSize:   5000,
				Prepare:     false,
			},
			Encoding: EncodingOptions{
				CopyBuffer:          true,
				UseUndefinedAsUnset: true,
			},
			Policies: PoliciesConfig{
				LoadBalancing: "dc-aware-round-robin",
				Reconnection:  "exponential",
				Retry:         "default",
			},
			MaxPrepared:           DefaultMaxPrepared,
			RefreshSchemaDelay:    DefaultRefreshSchemaDelay,
			IsMetadataSyncEnabled: true,
			PrepareOnAllHosts:     true,
			RePrepareOnUp:         true,
		},
		Profiles: map[string]ExecutionProfile{
			"default": {
				Consistency:   "LOCAL_ONE",
				ReadTimeoutMs: 12000,
				RetryPolicy:   "default",
				LoadBalancing: "dc-aware-round-robin",
			},
		},
	}
}

// Load reads configuration from file and environment variables, the
// same file->env->programmatic precedence the teacher's Load uses, with
// the driver's own env prefix and a required "default" execution
// profile validated post-unmarshal.
func Load(onConfigChange func()) (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName("cqldriver")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("CQLDRIVER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	bindEnvKeys("", reflect.TypeOf(Config{}))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if configFile := os.Getenv("CQLDRIVER_CONFIG_FILE"); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if _, ok := cfg.Profiles["default"]; !ok {
		return nil, fmt.Errorf("config: profiles must include a \"default\" entry")
	}

	viper.WatchConfig()

	if onConfigChange != nil {
		viper.OnConfigChange(func(e fsnotify.Event) {
			reloadMutex.Lock()
			defer reloadMutex.Unlock()

			now := time.Now()
			if now.Sub(lastReload) < 500*time.Millisecond {
				return
			}
			lastReload = now

			time.Sleep(DefaultFileWriteDelay)
			onConfigChange()
		})
	}
	return cfg, nil
}

// bindEnvKeys registers every leaf field of t (dot-joined, lower-cased
// field names, the form viper.Unmarshal matches) as an env-bound key, so
// AutomaticEnv overrides reach Unmarshal even when no file sets the key.
func bindEnvKeys(prefix string, t reflect.Type) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		key := strings.ToLower(f.Name)
		if prefix != "" {
			key = prefix + "." + key
		}
		if f.Type.Kind() == reflect.Struct {
			bindEnvKeys(key, f.Type)
			continue
		}
		_ = viper.BindEnv(key)
	}
}
