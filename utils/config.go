// Package utils holds service configuration and logging setup.
package utils

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
)

// CacheConfig selects and sizes the chunk cache backend.
type CacheConfig struct {
	// Backend is one of "", "lru", "memcache" or "redis".
	Backend    string   `json:"backend"`
	URI        string   `json:"uri"`
	Servers    []string `json:"servers"`
	Size       int      `json:"size"`
	TTLSeconds int      `json:"ttl_seconds"`
}

// ServiceConfig is the cube service part of the config file.
type ServiceConfig struct {
	Address       string   `json:"address"`
	STACEndpoint  string   `json:"stac_endpoint"`
	ManifestDir   string   `json:"manifest_dir"`
	TemplateDir   string   `json:"template_dir"`
	WorkerNodes   []string `json:"worker_nodes"`
	Workers       int      `json:"workers"`
	ChunkSize     [3]int   `json:"chunk_size"`
	ReadRetries   int      `json:"read_retries"`
	PGConnStr     string   `json:"pg_conn_str"`
	PGPoolSize    int      `json:"pg_pool_size"`
	MetricsPrefix string   `json:"metrics_prefix"`
	Verbose       bool     `json:"verbose"`
}

// Config is the top level of the service config file.
type Config struct {
	ServiceConfig ServiceConfig `json:"service_config"`
	Cache         CacheConfig   `json:"cache"`
}

// LoadConfigFile reads and validates a config file, filling defaults.
func LoadConfigFile(configFile string) (*Config, error) {
	cfg, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("error reading config file %s: %v", configFile, err)
	}

	config := &Config{}
	if err := json.Unmarshal(cfg, config); err != nil {
		return nil, fmt.Errorf("error parsing config file %s: %v", configFile, err)
	}

	sc := &config.ServiceConfig
	if len(sc.Address) == 0 {
		sc.Address = ":8080"
	}
	if sc.Workers <= 0 {
		sc.Workers = 16
	}
	if sc.ChunkSize == [3]int{} {
		sc.ChunkSize = [3]int{1, 256, 256}
	}
	if sc.ReadRetries <= 0 {
		sc.ReadRetries = 1
	}
	if len(sc.MetricsPrefix) == 0 {
		sc.MetricsPrefix = "stackcube"
	}
	if config.Cache.TTLSeconds <= 0 {
		config.Cache.TTLSeconds = 3600
	}
	if config.Cache.Size <= 0 {
		config.Cache.Size = 1024
	}
	return config, nil
}

// WatchConfig reloads the config file on SIGHUP. A reload that fails
// to parse keeps the running config.
func WatchConfig(configFile string, onReload func(*Config)) {
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			log.Printf("caught SIGHUP, reloading config %s", configFile)
			config, err := LoadConfigFile(configFile)
			if err != nil {
				log.Printf("config reload failed, keeping current config: %v", err)
				continue
			}
			onReload(config)
		}
	}()
}
