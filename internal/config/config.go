package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ernie/fortcore/internal/domain"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server     ServerConfig   `yaml:"server"`
	Database   DatabaseConfig `yaml:"database"`
	Auth       AuthConfig     `yaml:"auth"`
	Bus        BusConfig      `yaml:"bus"`
	LobbySpawn Spawn          `yaml:"lobby_spawn"`
	Maps       []MapConfig    `yaml:"maps"`
	Kits       []KitConfig    `yaml:"kits"`
	Rollback   RollbackConfig `yaml:"rollback"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	HTTPPort   int    `yaml:"http_port"`
	StaticDir  string `yaml:"static_dir"`
}

// DatabaseConfig holds SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication settings
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenDuration time.Duration `yaml:"token_duration"`
}

// BusConfig holds embedded NATS settings
type BusConfig struct {
	Port int `yaml:"port"` // -1 picks a random free port
}

// Spawn is a teleport destination
type Spawn struct {
	World string  `yaml:"world"`
	X     float64 `yaml:"x"`
	Y     float64 `yaml:"y"`
	Z     float64 `yaml:"z"`
}

// MapConfig describes one arena map; maps pair with kits by index
type MapConfig struct {
	Name      string `yaml:"name"`
	Creator   string `yaml:"creator"`
	World     string `yaml:"world"`
	Spawn     Spawn  `yaml:"spawn"`
	Levelshot string `yaml:"levelshot"` // optional tga preview image
}

// KitConfig describes one kit; max_players bounds the paired map's slot
type KitConfig struct {
	Name       string `yaml:"name"`
	Creator    string `yaml:"creator"`
	MaxPlayers int    `yaml:"max_players"`
}

// RollbackConfig holds action logging and replay settings
type RollbackConfig struct {
	LogDir           string        `yaml:"log_dir"`
	ArchiveDir       string        `yaml:"archive_dir"` // empty disables archiving
	FlushInterval    time.Duration `yaml:"flush_interval"`
	CycleInterval    time.Duration `yaml:"cycle_interval"`
	BatchSize        int           `yaml:"batch_size"`
	TeleportCooldown time.Duration `yaml:"teleport_cooldown"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Set defaults
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = "127.0.0.1"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/var/lib/fortcore/fortcore.db"
	}
	if cfg.Auth.TokenDuration == 0 {
		cfg.Auth.TokenDuration = 24 * time.Hour
	}
	if cfg.Bus.Port == 0 {
		cfg.Bus.Port = -1
	}
	if cfg.LobbySpawn.World == "" {
		cfg.LobbySpawn.World = "world"
	}
	if cfg.Rollback.LogDir == "" {
		cfg.Rollback.LogDir = "/var/lib/fortcore/rollbacks"
	}
	if cfg.Rollback.FlushInterval == 0 {
		cfg.Rollback.FlushInterval = 60 * time.Second
	}
	if cfg.Rollback.CycleInterval == 0 {
		cfg.Rollback.CycleInterval = 500 * time.Millisecond
	}
	if cfg.Rollback.BatchSize == 0 {
		cfg.Rollback.BatchSize = 2
	}
	if cfg.Rollback.TeleportCooldown == 0 {
		cfg.Rollback.TeleportCooldown = 5 * time.Second
	}
	for i := range cfg.Kits {
		if cfg.Kits[i].MaxPlayers == 0 {
			cfg.Kits[i].MaxPlayers = 8
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks invariants that must hold before any match is offered.
// Maps and kits pair strictly by index, so a count mismatch is fatal here
// rather than a runtime error.
func (c *Config) Validate() error {
	if len(c.Maps) != len(c.Kits) {
		return fmt.Errorf("%w: %d maps, %d kits", domain.ErrConfigMismatch, len(c.Maps), len(c.Kits))
	}
	for i, kit := range c.Kits {
		if kit.MaxPlayers < 1 {
			return fmt.Errorf("%w: kit %q (index %d) has max_players %d", domain.ErrConfigMismatch, kit.Name, i, kit.MaxPlayers)
		}
	}
	for i, m := range c.Maps {
		if m.World == "" {
			return fmt.Errorf("%w: map %q (index %d) has no world", domain.ErrConfigMismatch, m.Name, i)
		}
	}
	return nil
}
