// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/bitfsorg/anchorstore/alert"
	"github.com/bitfsorg/anchorstore/hasher"
	"github.com/bitfsorg/anchorstore/storage"
)

// validLogLevels lists the accepted log level strings.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// ValidateConfig checks that all configuration values are within acceptable
// ranges and returns the first error encountered, or nil if valid.
func ValidateConfig(cfg Config) error {
	if cfg.DataDir == "" {
		return ErrEmptyDataDir
	}

	if cfg.Network != "mainnet" && cfg.Network != "testnet" && cfg.Network != "regtest" {
		return ErrInvalidNetwork
	}

	if !validLogLevels[strings.ToLower(cfg.LogLevel)] {
		return ErrInvalidLogLevel
	}

	if f := strings.ToLower(cfg.LogFormat); f != "console" && f != "json" {
		return ErrInvalidLogFormat
	}

	if err := validateStorage(cfg.Storage); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidStorage, err)
	}

	if err := cfg.Engine.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEngine, err)
	}

	if err := validateAlerts(cfg.Alerts); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAlerts, err)
	}

	return nil
}

func validateStorage(s StorageConfig) error {
	if _, err := hasher.ParseAlgorithm(s.Algorithm); err != nil {
		return err
	}
	if _, err := storage.ParseCompression(s.Compression); err != nil {
		return err
	}
	if s.CacheEntries < 0 {
		return fmt.Errorf("cache_entries must not be negative")
	}
	if s.MaxPayload < 0 {
		return fmt.Errorf("max_payload must not be negative")
	}
	if s.MirrorTimeout < 0 {
		return fmt.Errorf("mirror_timeout must not be negative")
	}
	if s.DNSUpstream != "" {
		if _, _, err := net.SplitHostPort(s.DNSUpstream); err != nil {
			return fmt.Errorf("dns_upstream: %w", err)
		}
	}
	for i, m := range s.Mirrors {
		if err := validateHTTPURL(m); err != nil {
			return fmt.Errorf("mirrors[%d]: %w", i, err)
		}
	}
	return nil
}

func validateAlerts(a AlertsConfig) error {
	if a.ConsecutiveThreshold < 0 || a.EntryThreshold < 0 {
		return fmt.Errorf("thresholds must not be negative")
	}
	if a.Window < 0 {
		return fmt.Errorf("window must not be negative")
	}
	if a.QueueSize < 0 {
		return fmt.Errorf("queue_size must not be negative")
	}
	for i, w := range a.Webhooks {
		if err := validateHTTPURL(w.URL); err != nil {
			return fmt.Errorf("webhooks[%d]: %w", i, err)
		}
		if w.MinSeverity != "" {
			if _, err := alert.ParseSeverity(w.MinSeverity); err != nil {
				return fmt.Errorf("webhooks[%d]: %w", i, err)
			}
		}
	}
	return nil
}

// validateHTTPURL checks that raw is an absolute http or https URL.
func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url %q must be an absolute http(s) URL", raw)
	}
	return nil
}
