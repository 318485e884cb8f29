package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFinalChunkMask is the reserved high bit of an xfer packet id that
// marks the last chunk.
const DefaultFinalChunkMask uint32 = 0x80000000

// InventoryConfig tunes the tree engine, the upload pipeline and the library
// of default wearables.
type InventoryConfig struct {
	AllowDelete          *bool         `yaml:"allow_delete"`
	CreateDefaultItems   *bool         `yaml:"create_default_items"`
	UploadCharge         int           `yaml:"upload_charge"`
	FinalChunkMask       uint32        `yaml:"final_chunk_mask"`
	RepairLockTTLSeconds int64         `yaml:"repair_lock_ttl_seconds"`
	ProvisionOnConnect   *bool         `yaml:"provision_on_connect"`
	ConnectRetrySeconds  int64         `yaml:"connect_retry_seconds"`
	Library              LibraryConfig `yaml:"library"`
}

// LibraryConfig names the shared library owner and the well-known default
// wearables. Keys of DefaultAssets and DefaultItems are wearable slots
// (shape, skin, hair, eyes, shirt, pants).
type LibraryConfig struct {
	Owner         string            `yaml:"owner"`
	DefaultAssets map[string]string `yaml:"default_assets"`
	DefaultItems  map[string]string `yaml:"default_items"`
}

// Deletion reports whether permanent deletion is enabled account-wide.
func (c *InventoryConfig) Deletion() bool {
	return c.AllowDelete == nil || *c.AllowDelete
}

// DefaultItems reports whether new inventories get baseline wearables.
func (c *InventoryConfig) DefaultItems() bool {
	return c.CreateDefaultItems == nil || *c.CreateDefaultItems
}

// RepairLockTTL is the advisory lock lifetime around one repair pass.
func (c *InventoryConfig) RepairLockTTL() time.Duration {
	return time.Duration(c.RepairLockTTLSeconds) * time.Second
}

// Provisioning reports whether a connecting agent without an inventory gets
// one created.
func (c *InventoryConfig) Provisioning() bool {
	return c.ProvisionOnConnect == nil || *c.ProvisionOnConnect
}

// ConnectRetry is the redelivery delay for a connect whose provisioning
// failed.
func (c *InventoryConfig) ConnectRetry() time.Duration {
	return time.Duration(c.ConnectRetrySeconds) * time.Second
}

// LoadInventory loads a YAML inventory file; returns defaults if missing.
func LoadInventory(path string) (*InventoryConfig, error) {
	if path == "" {
		return defaultInventory(), nil
	}
	// #nosec G304 -- inventory config path is operator-provided.
	data, err := os.ReadFile(path)
	if err != nil {
		return defaultInventory(), fmt.Errorf("read inventory config: %w", err)
	}
	return ParseInventory(data)
}

// ParseInventory parses inventory config data from YAML/JSON bytes.
func ParseInventory(data []byte) (*InventoryConfig, error) {
	if len(data) == 0 {
		return defaultInventory(), nil
	}
	if err := validateInventorySchema(data); err != nil {
		return defaultInventory(), err
	}
	var cfg InventoryConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return defaultInventory(), fmt.Errorf("parse inventory config: %w", err)
	}
	if err := validateInventory(&cfg); err != nil {
		return defaultInventory(), err
	}
	def := defaultInventory()
	if cfg.FinalChunkMask == 0 {
		cfg.FinalChunkMask = def.FinalChunkMask
	}
	if cfg.RepairLockTTLSeconds <= 0 {
		cfg.RepairLockTTLSeconds = def.RepairLockTTLSeconds
	}
	if cfg.ConnectRetrySeconds <= 0 {
		cfg.ConnectRetrySeconds = def.ConnectRetrySeconds
	}
	if cfg.Library.Owner == "" {
		cfg.Library.Owner = def.Library.Owner
	}
	cfg.Library.DefaultAssets = mergeSlots(def.Library.DefaultAssets, cfg.Library.DefaultAssets)
	cfg.Library.DefaultItems = mergeSlots(def.Library.DefaultItems, cfg.Library.DefaultItems)
	return &cfg, nil
}

func mergeSlots(def, override map[string]string) map[string]string {
	out := make(map[string]string, len(def))
	for k, v := range def {
		out[k] = v
	}
	for k, v := range override {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

func defaultInventory() *InventoryConfig {
	return &InventoryConfig{
		FinalChunkMask:       DefaultFinalChunkMask,
		RepairLockTTLSeconds: 120,
		ConnectRetrySeconds:  5,
		Library: LibraryConfig{
			Owner: "11111111-1111-0000-0000-000100bba000",
			DefaultAssets: map[string]string{
				"shape": "66c41e39-38f9-f75a-024e-585989bfab73",
				"skin":  "77c41e39-38f9-f75a-024e-585989bbabbb",
				"hair":  "d342e6c0-b9d2-11dc-95ff-0800200c9a66",
				"eyes":  "6522e74d-1660-4e7f-b601-6f48c1659a77",
				"shirt": "00000000-38f9-1111-024e-222222111110",
				"pants": "00000000-38f9-1111-024e-222222111120",
			},
			DefaultItems: map[string]string{
				"shape": "66c41e39-38f9-f75a-024e-585989bfaba9",
				"skin":  "77c41e39-38f9-f75a-024e-585989bfabc9",
				"hair":  "d342e6c1-b9d2-11dc-95ff-0800200c9a66",
				"eyes":  "cdc31054-eed8-4021-994f-4e0c6e861b50",
				"shirt": "77c41e39-38f9-f75a-0000-585989bf0000",
				"pants": "77c41e39-38f9-f75a-0000-5859892f1111",
			},
		},
	}
}
