// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type ctxKey string

const configContextKey ctxKey = "deed.config"

const DefaultTickInterval = "1s"

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

type Config struct {
	DataDir         string `yaml:"dataDir"                                       split_words:"true"`
	ArchiveDir      string `yaml:"archiveDir"                                    split_words:"true"`
	BindAddr        string `yaml:"bindAddr"                                      split_words:"true"`
	TreasuryAccount string `yaml:"treasuryAccount"                               split_words:"true"`
	TickInterval    string `yaml:"tickInterval"                                  split_words:"true"`
	MetricsPort     uint   `yaml:"metricsPort"                                   split_words:"true"`
	AuctionTicks    uint64 `yaml:"auctionTicks"                                  split_words:"true"`
	BucketCapacity  int64  `yaml:"bucketCapacity"                                split_words:"true"`
	ArchiveDisabled bool   `yaml:"archiveDisabled" envconfig:"DEED_ARCHIVE_DISABLED"`
}

var globalConfig = &Config{
	DataDir:         ".deed",
	ArchiveDir:      "",
	BindAddr:        "0.0.0.0",
	TreasuryAccount: "treasury",
	TickInterval:    DefaultTickInterval,
	MetricsPort:     12798,
	AuctionTicks:    0,
	BucketCapacity:  0,
}

func LoadConfig(configFile string) (*Config, error) {
	// Load config file as YAML if provided
	if configFile == "" {
		// Check for config file in this path: ~/.deed/deed.yaml
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, ".deed", "deed.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}
	}
	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		err = yaml.Unmarshal(buf, globalConfig)
		if err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	// Load config values from environment variables
	// We use "dummy" as the app name here to (mostly) prevent picking up
	// env vars that we hadn't explicitly specified in annotations above
	err := envconfig.Process("dummy", globalConfig)
	if err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}
	return globalConfig, nil
}

// GetConfig returns the global config instance
func GetConfig() *Config {
	return globalConfig
}
