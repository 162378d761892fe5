package main

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the daemon's flags, for sites that prefer a
// config file over a long command line. loadConfigFile only reads the
// file; runDaemon's flagOrFile helpers then take an explicitly set flag,
// else a non-zero file value, else the flag's default.
type fileConfig struct {
	LogLevel           string        `yaml:"logLevel"`
	LogJSON            bool          `yaml:"logJSON"`
	SocketPath         string        `yaml:"socketPath"`
	MaxFrameBytes      int           `yaml:"maxFrameBytes"`
	DBPath             string        `yaml:"dbPath"`
	VolumeDir          string        `yaml:"volumeDir"`
	MetricsAddr        string        `yaml:"metricsAddr"`
	HostMemoryBytes    uint64        `yaml:"hostMemoryBytes"`
	MemoryReserveBytes uint64        `yaml:"memoryReserveBytes"`
	MetricsInterval    time.Duration `yaml:"metricsInterval"`
}

func loadConfigFile(path string) (fileConfig, error) {
	var cfg fileConfig
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
