package stats

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML can carry values like "6h" or "30m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	dur, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", value.Value, err)
	}
	*d = Duration(dur)
	return nil
}

// MarketplaceConfig tunes the gallery crawl.
type MarketplaceConfig struct {
	PageSize int    `yaml:"page_size"`
	MaxPages int    `yaml:"max_pages"`
	Category string `yaml:"category"`
}

// FileConfig is the YAML configuration for both the HTTP service and the
// batch ingest CLI. CLI flags override individual fields in main.
type FileConfig struct {
	DB               string            `yaml:"db"`
	DataDir          string            `yaml:"data_dir"`
	ArchiveDir       string            `yaml:"archive_dir"`
	ListenAddr       string            `yaml:"listen_addr"`
	ClientKeys       []string          `yaml:"client_keys"`
	FetchMinInterval Duration          `yaml:"fetch_min_interval"`
	Debug            bool              `yaml:"debug"`
	Marketplace      MarketplaceConfig `yaml:"marketplace"`
}

func LoadConfig(path string) (*FileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

func (c *FileConfig) ApplyDefaults() {
	if c.DB == "" {
		c.DB = "stats.db"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.ArchiveDir == "" {
		c.ArchiveDir = "processed_json"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8000"
	}
	if c.FetchMinInterval == 0 {
		c.FetchMinInterval = Duration(6 * time.Hour)
	}
	if c.Marketplace.PageSize == 0 {
		c.Marketplace.PageSize = 54
	}
	if c.Marketplace.MaxPages == 0 {
		c.Marketplace.MaxPages = 20
	}
	if c.Marketplace.Category == "" {
		c.Marketplace.Category = "AI"
	}
}
