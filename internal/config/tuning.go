package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tracking defaults file.
const DefaultConfigPath = "config/tracking.defaults.json"

const (
	defaultScanActive     = 500 * time.Millisecond
	defaultScanSettle     = 10 * time.Millisecond
	defaultAgingPeriod    = time.Second
	defaultStaleAfter     = 4
	defaultEvictAfter     = 10
	defaultHistoryLength  = 16
	defaultInboxSize      = 256
	defaultPCAPDefaultRSS = -70
)

// TuningConfig holds the timing and aging parameters of the trackers. Every
// field is optional; the Get* accessors supply defaults for omitted values.
type TuningConfig struct {
	// Scan cycle
	ScanActive  *string `json:"scan_active,omitempty"`  // duration string like "500ms"
	ScanSettle  *string `json:"scan_settle,omitempty"`  // duration string like "10ms"
	AgingPeriod *string `json:"aging_period,omitempty"` // duration string like "1s"

	// Registry aging, in aging periods
	StaleAfter    *int `json:"stale_after,omitempty"`
	EvictAfter    *int `json:"evict_after,omitempty"`
	HistoryLength *int `json:"history_length,omitempty"`

	// Ingestion
	InboxSize         *int  `json:"inbox_size,omitempty"`
	StopOnBadPosition *bool `json:"stop_on_bad_position,omitempty"`
	PCAPDefaultRSSI   *int  `json:"pcap_default_rssi,omitempty"`
}

func ptrInt(v int) *int          { return &v }
func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields unset.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field set to its
// default value.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		ScanActive:        ptrString(defaultScanActive.String()),
		ScanSettle:        ptrString(defaultScanSettle.String()),
		AgingPeriod:       ptrString(defaultAgingPeriod.String()),
		StaleAfter:        ptrInt(defaultStaleAfter),
		EvictAfter:        ptrInt(defaultEvictAfter),
		HistoryLength:     ptrInt(defaultHistoryLength),
		InboxSize:         ptrInt(defaultInboxSize),
		StopOnBadPosition: ptrBool(true),
		PCAPDefaultRSSI:   ptrInt(defaultPCAPDefaultRSS),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted from
// the file keep their defaults, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the values that are set.
func (c *TuningConfig) Validate() error {
	for name, v := range map[string]*string{
		"scan_active":  c.ScanActive,
		"scan_settle":  c.ScanSettle,
		"aging_period": c.AgingPeriod,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	stale, evict := c.GetStaleAfter(), c.GetEvictAfter()
	if stale < 1 {
		return fmt.Errorf("stale_after must be at least 1, got %d", stale)
	}
	if evict <= stale {
		return fmt.Errorf("evict_after (%d) must be greater than stale_after (%d)", evict, stale)
	}

	if c.HistoryLength != nil && *c.HistoryLength < 0 {
		return fmt.Errorf("history_length must be non-negative, got %d", *c.HistoryLength)
	}
	if c.InboxSize != nil && *c.InboxSize < 1 {
		return fmt.Errorf("inbox_size must be at least 1, got %d", *c.InboxSize)
	}
	if c.PCAPDefaultRSSI != nil && (*c.PCAPDefaultRSSI < -127 || *c.PCAPDefaultRSSI > 20) {
		return fmt.Errorf("pcap_default_rssi out of range: %d", *c.PCAPDefaultRSSI)
	}

	return nil
}

func parseDurationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// GetScanActive returns how long each scan phase receives advertisements.
func (c *TuningConfig) GetScanActive() time.Duration {
	return parseDurationOr(c.ScanActive, defaultScanActive)
}

// GetScanSettle returns the quiescent gap between scan phases.
func (c *TuningConfig) GetScanSettle() time.Duration {
	return parseDurationOr(c.ScanSettle, defaultScanSettle)
}

// GetAgingPeriod returns the registry aging tick period.
func (c *TuningConfig) GetAgingPeriod() time.Duration {
	return parseDurationOr(c.AgingPeriod, defaultAgingPeriod)
}

// GetStaleAfter returns the stale_after value or the default.
func (c *TuningConfig) GetStaleAfter() int {
	if c.StaleAfter == nil {
		return defaultStaleAfter
	}
	return *c.StaleAfter
}

// GetEvictAfter returns the evict_after value or the default.
func (c *TuningConfig) GetEvictAfter() int {
	if c.EvictAfter == nil {
		return defaultEvictAfter
	}
	return *c.EvictAfter
}

// GetHistoryLength returns the history_length value or the default.
func (c *TuningConfig) GetHistoryLength() int {
	if c.HistoryLength == nil {
		return defaultHistoryLength
	}
	return *c.HistoryLength
}

// GetInboxSize returns the inbox_size value or the default.
func (c *TuningConfig) GetInboxSize() int {
	if c.InboxSize == nil {
		return defaultInboxSize
	}
	return *c.InboxSize
}

// GetStopOnBadPosition returns the stop_on_bad_position value or the default.
func (c *TuningConfig) GetStopOnBadPosition() bool {
	if c.StopOnBadPosition == nil {
		return true // default: out-of-range queries stop tracking
	}
	return *c.StopOnBadPosition
}

// GetPCAPDefaultRSSI returns the rssi assumed for captures without a radio
// pseudo-header.
func (c *TuningConfig) GetPCAPDefaultRSSI() int {
	if c.PCAPDefaultRSSI == nil {
		return defaultPCAPDefaultRSS
	}
	return *c.PCAPDefaultRSSI
}
