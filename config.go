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

package deed

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultTreasuryAccount receives the platform's share of sale fees unless
// overridden
const DefaultTreasuryAccount = "treasury"

type Config struct {
	promRegistry    prometheus.Registerer
	logger          *slog.Logger
	dataDir         string
	archiveDir      string
	treasuryAccount string
	auctionTicks    uint64
	bucketCapacity  int64
	archiveDisabled bool
}

// ConfigOptionFunc is a type that represents functions that modify the engine config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new engine config with the specified options applied
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		treasuryAccount: DefaultTreasuryAccount,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithLogger specifies the logger to use. This defaults to discarding log output.
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithDataDir specifies the path to the data directory. An empty path uses
// transient in-memory storage.
func WithDataDir(dataDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.dataDir = dataDir
	}
}

// WithArchiveDir specifies the path to the audit archive directory. An
// empty path keeps the archive in memory.
func WithArchiveDir(archiveDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.archiveDir = archiveDir
	}
}

// WithArchiveDisabled disables the audit archive entirely
func WithArchiveDisabled(disabled bool) ConfigOptionFunc {
	return func(c *Config) {
		c.archiveDisabled = disabled
	}
}

// WithPrometheusRegistry specifies a prometheus.Registerer instance for metrics
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithTreasuryAccount specifies the account that receives the platform's
// share of sale fees
func WithTreasuryAccount(account string) ConfigOptionFunc {
	return func(c *Config) {
		c.treasuryAccount = account
	}
}

// WithAuctionTicks specifies how many ticks an auction opened by a passing
// sale round stays open
func WithAuctionTicks(ticks uint64) ConfigOptionFunc {
	return func(c *Config) {
		c.auctionTicks = ticks
	}
}

// WithBucketCapacity bounds how many deadlines may share a single tick
func WithBucketCapacity(capacity int64) ConfigOptionFunc {
	return func(c *Config) {
		c.bucketCapacity = capacity
	}
}
