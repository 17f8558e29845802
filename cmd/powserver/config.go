// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"os"

	flags "github.com/jessevdk/go-flags"
	"gopkg.in/yaml.v3"
)

// config holds the flags accepted by powserver. Cfg is populated from the
// command line via go-flags first, then any field left at its default value
// is filled in from the optional --config YAML file, mirroring the
// flags-then-file precedence btcd-style daemons use for their config.toml.
type config struct {
	Listen     string `long:"listen" description:"address to listen on" default:":8080"`
	StorePath  string `long:"store-path" description:"leveldb directory for persisted function sketches (or store_path in --config)"`
	ConfigYAML string `long:"config" description:"optional YAML file overriding unset flags"`
	Seed       string `long:"seed" description:"optional YAML file describing repositories to serve"`
	LogLevel   string `long:"loglevel" description:"log level: trace, debug, info, warn, error, critical" default:"info"`
	LogFile    string `long:"logfile" description:"also write logs to this rotated file"`
}

// fileConfig is the shape of the YAML file named by --config. Its fields
// are applied only where the corresponding flag is still at its default.
type fileConfig struct {
	Listen    string `yaml:"listen"`
	StorePath string `yaml:"store_path"`
	LogLevel  string `yaml:"log_level"`
	LogFile   string `yaml:"log_file"`
}

func parseConfig(args []string) (config, error) {
	var cfg config
	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return cfg, err
	}

	if cfg.ConfigYAML != "" {
		data, err := os.ReadFile(cfg.ConfigYAML)
		if err != nil {
			return cfg, err
		}
		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return cfg, err
		}
		applyFileConfig(&cfg, fc)
	}

	if cfg.StorePath == "" {
		return cfg, errors.New("a store path is required: set --store-path or store_path in --config")
	}
	return cfg, nil
}

func applyFileConfig(cfg *config, fc fileConfig) {
	if cfg.Listen == "" || cfg.Listen == ":8080" {
		if fc.Listen != "" {
			cfg.Listen = fc.Listen
		}
	}
	if cfg.StorePath == "" && fc.StorePath != "" {
		cfg.StorePath = fc.StorePath
	}
	if cfg.LogLevel == "" || cfg.LogLevel == "info" {
		if fc.LogLevel != "" {
			cfg.LogLevel = fc.LogLevel
		}
	}
	if cfg.LogFile == "" && fc.LogFile != "" {
		cfg.LogFile = fc.LogFile
	}
}
