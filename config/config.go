// Package config loads and validates the TOML configuration files for the
// three mmc processes (MetaSvc, LocalSvc, client), per the keys enumerated
// in spec §6. The teacher codebase has no configuration layer of its own
// (its only "config" is command-line flags); BurntSushi/toml is adopted
// from the rest of the retrieval pack (it is the config format used by
// the gVisor-lineage example) since the spec's config surface is
// naturally a static file, not flags.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Protocol is the LocalSvc transport selection.
type Protocol string

const (
	ProtocolSDMA Protocol = "sdma"
	ProtocolRoCE Protocol = "roce"
	ProtocolTCP  Protocol = "tcp"
)

// TLSConfig mirrors the TLS block under both meta and (optionally) local
// service config; cert/key material is consumed by crypto/tls at dial/
// listen time, not parsed here.
type TLSConfig struct {
	Enable        bool   `toml:"enable"`
	CA            string `toml:"ca"`
	CRL           string `toml:"crl"`
	Cert          string `toml:"cert"`
	Key           string `toml:"key"`
	KeyPass       string `toml:"keypass"`
	Package       string `toml:"package"`
	DecrypterLib  string `toml:"decrypter_lib"`
}

// MetaConfig is the MetaSvc configuration surface (spec §6).
type MetaConfig struct {
	MetaServiceURL        string    `toml:"meta_service_url"`
	LogLevel              string    `toml:"log_level"`
	LogRotationFileSize   int       `toml:"log_rotation_file_size"`
	LogRotationFileCount  int       `toml:"log_rotation_file_count"`
	EvictThresholdHigh    float64   `toml:"evict_threshold_high"`
	EvictThresholdLow     float64   `toml:"evict_threshold_low"`
	HAEnable              bool      `toml:"ha_enable"`
	MetaRebuildEnable     bool      `toml:"meta_rebuild_enable"`
	TLS                   TLSConfig `toml:"tls"`
	RPCTimeoutSeconds     int       `toml:"rpc_timeout_seconds"`
	DefaultTTLMillis      int       `toml:"default_ttl_ms"`
}

// LocalConfig is the LocalSvc configuration surface (spec §6).
type LocalConfig struct {
	WorldSize     int      `toml:"world_size"`
	DeviceID      int      `toml:"device_id"`
	RankID        int      `toml:"rank_id"`
	AutoRanking   bool     `toml:"auto_ranking"`
	ConfigStoreURL string  `toml:"config_store_url"`
	HcomURL       string   `toml:"hcom_url"`
	Protocol      Protocol `toml:"protocol"`
	DRAMSize      int64    `toml:"dram_size"`
	HBMSize       int64    `toml:"hbm_size"`
	MetaServiceURL string  `toml:"meta_service_url"`
	LogLevel      string   `toml:"log_level"`
}

// ClientConfig is the client library configuration surface (spec §6).
type ClientConfig struct {
	RankID            int    `toml:"rank_id"`
	TimeoutSeconds    int    `toml:"client_timeout_seconds"`
	MetaServiceURL    string `toml:"meta_service_url"`
}

const miB = 1 << 20

// LoadMetaConfig parses and validates a MetaSvc TOML config file.
func LoadMetaConfig(path string) (*MetaConfig, error) {
	var c MetaConfig
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *MetaConfig) Validate() error {
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid log_level %q", c.LogLevel)
	}
	if c.EvictThresholdHigh != 0 || c.EvictThresholdLow != 0 {
		if c.EvictThresholdHigh <= c.EvictThresholdLow {
			return fmt.Errorf("config: evict_threshold_high (%v) must be > evict_threshold_low (%v)", c.EvictThresholdHigh, c.EvictThresholdLow)
		}
	}
	if c.TLS.Enable {
		if c.TLS.Cert == "" || c.TLS.Key == "" {
			return fmt.Errorf("config: tls.enable requires cert and key")
		}
	}
	if c.RPCTimeoutSeconds <= 0 {
		c.RPCTimeoutSeconds = 60 // spec §5 default rpcTimeOut
	}
	if c.DefaultTTLMillis <= 0 {
		c.DefaultTTLMillis = 10_000
	}
	return nil
}

// LoadLocalConfig parses and validates a LocalSvc TOML config file.
func LoadLocalConfig(path string) (*LocalConfig, error) {
	var c LocalConfig
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *LocalConfig) Validate() error {
	if (c.DRAMSize > 0) == (c.HBMSize > 0) {
		return fmt.Errorf("config: exactly one of dram_size/hbm_size must be positive, got dram=%d hbm=%d", c.DRAMSize, c.HBMSize)
	}
	if c.DRAMSize > 0 && c.DRAMSize%(2*miB) != 0 {
		return fmt.Errorf("config: dram_size (%d) must be 2 MiB-aligned", c.DRAMSize)
	}
	switch c.Protocol {
	case "", ProtocolSDMA, ProtocolRoCE, ProtocolTCP:
	default:
		return fmt.Errorf("config: invalid protocol %q", c.Protocol)
	}
	if c.WorldSize <= 0 {
		return fmt.Errorf("config: world_size must be positive")
	}
	if c.RankID < 0 || c.RankID >= c.WorldSize {
		return fmt.Errorf("config: rank_id %d out of range [0,%d)", c.RankID, c.WorldSize)
	}
	return nil
}

// LoadClientConfig parses a client TOML config file. Validation is
// intentionally minimal: a zero or negative timeout falls back to 60
// seconds.
func LoadClientConfig(path string) (*ClientConfig, error) {
	var c ClientConfig
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 60
	}
	return &c, nil
}
