package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FeesConfig is the protocol fee schedule. Each fee is split evenly across
// Wallets, the first wallet taking any remainder. No wallets means no fees.
type FeesConfig struct {
	TransmuterFeeLamports uint64   `yaml:"transmuter_fee_lamports" json:"transmuter_fee_lamports"`
	MutationFeeLamports   uint64   `yaml:"mutation_fee_lamports" json:"mutation_fee_lamports"`
	Wallets               []string `yaml:"wallets" json:"wallets"`
}

// ArchiveConfig selects where snapshot exports are written.
type ArchiveConfig struct {
	Backend      string `yaml:"backend" json:"backend"` // "file" | "s3" | "gcs"
	Dir          string `yaml:"dir,omitempty" json:"dir,omitempty"`
	Bucket       string `yaml:"bucket,omitempty" json:"bucket,omitempty"`
	Prefix       string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Region       string `yaml:"region,omitempty" json:"region,omitempty"`
	Endpoint     string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	UsePathStyle bool   `yaml:"use_path_style,omitempty" json:"use_path_style,omitempty"`
}

// fileConfig is the YAML overlay document.
type fileConfig struct {
	Fees    *FeesConfig    `yaml:"fees"`
	Archive *ArchiveConfig `yaml:"archive"`
}

// LoadFile overlays the YAML document at path onto cfg. Sections absent
// from the document keep their environment values.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("load config %q: %w", path, err)
	}
	var doc fileConfig
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse config %q: %w", path, err)
	}
	if doc.Fees != nil {
		cfg.Fees = *doc.Fees
	}
	if doc.Archive != nil {
		if doc.Archive.Backend == "" {
			doc.Archive.Backend = cfg.Archive.Backend
		}
		cfg.Archive = *doc.Archive
	}
	return nil
}

// LoadWithFile loads the environment and applies TRANSMUTER_CONFIG if set.
func LoadWithFile() (*Config, error) {
	cfg := Load()
	if cfg.ConfigFile == "" {
		return cfg, nil
	}
	if err := LoadFile(cfg, cfg.ConfigFile); err != nil {
		return nil, err
	}
	return cfg, nil
}
