// Package config handles configuration loading, validation and
// persistence for a ticlink server or client.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ticlink-project/ticlink/internal/protocol"
	"github.com/ticlink-project/ticlink/internal/session"
	"github.com/ticlink-project/ticlink/internal/util"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultGamePort   = 5029
	DefaultAPIPort    = 5030
)

// Config is the root configuration.
type Config struct {
	mu       sync.RWMutex
	path     string
	firstRun bool

	NetData         NetData         `json:"net_data"`
	ApplicationData ApplicationData `json:"application_data"`
}

// NetData is the game session and transport configuration.
type NetData struct {
	Port       int    `json:"port"`
	ServerName string `json:"server_name"`
	Dedicated  bool   `json:"dedicated"`
	PlayerName string `json:"player_name"`
	SecondName string `json:"second_player_name"`
	GameType   string `json:"game_type"`
	Map        string `json:"map"`

	Application string `json:"application"`
	Version     int    `json:"version"`
	Subversion  int    `json:"subversion"`

	MaxPlayers        int     `json:"max_players"`
	AllowJoins        bool    `json:"allow_joins"`
	JoinDelay         int     `json:"join_delay_sec"`
	MaxPing           int     `json:"max_ping_ms"`
	PingTimeout       int     `json:"ping_timeout_sec"`
	PingFaultFraction float64 `json:"ping_fault_fraction"`
	ConnectionTimeout int     `json:"connection_timeout_sec"`
	RejoinTimeout     int     `json:"rejoin_timeout_sec"`

	MaxPacketLength  int `json:"max_packet_length"`
	MaxCatchUpTics   int `json:"max_catchup_tics"`
	ResyncAttempts   int `json:"resync_attempts"`
	SavegameRate     int `json:"savegame_rate_bps"`
	MaxPacketsPerSec int `json:"max_packets_per_sec"`

	AdminPasswordHash string `json:"admin_password_hash"`
}

// ApplicationData configures the process around the game.
type ApplicationData struct {
	Logging    LoggingConfig    `json:"logging"`
	API        APIConfig        `json:"api"`
	MQTT       MQTTConfig       `json:"mqtt"`
	Database   DatabaseConfig   `json:"database"`
	LagMonitor LagMonitorConfig `json:"lag_monitor"`
	Health     HealthConfig     `json:"health"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
}

// APIConfig holds the REST API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Port           int      `json:"port"`
	Token          string   `json:"token"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	RateLimitBurst int      `json:"rate_limit_burst"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

// DatabaseConfig locates the ban and incident store.
type DatabaseConfig struct {
	Path          string `json:"path"`
	RetentionDays int    `json:"incident_retention_days"`
	CleanupTime   string `json:"cleanup_time"`
}

// LagMonitorConfig sets the lag alert thresholds.
type LagMonitorConfig struct {
	WarnPingMs  int `json:"warn_ping_ms"`
	IntervalSec int `json:"interval_sec"`
}

// HealthConfig sets the watchdog intervals (seconds) and alert levels.
type HealthConfig struct {
	StallSec          int     `json:"stall_sec"`
	CheckIntervalSec  int     `json:"check_interval_sec"`
	DiskIntervalSec   int     `json:"disk_interval_sec"`
	HeartbeatSec      int     `json:"heartbeat_sec"`
	CPUWarnPercent    float64 `json:"cpu_warn_percent"`
	MemoryWarnPercent float64 `json:"memory_warn_percent"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	s := session.DefaultConfig()
	return &Config{
		NetData: NetData{
			Port:              DefaultGamePort,
			ServerName:        s.ServerName,
			PlayerName:        "Sonic",
			GameType:          "coop",
			Map:               "MAP01",
			Application:       s.Application,
			Version:           int(s.Version),
			Subversion:        int(s.Subversion),
			MaxPlayers:        s.MaxPlayers,
			AllowJoins:        s.AllowJoins,
			JoinDelay:         s.JoinDelay,
			MaxPing:           int(s.MaxPing),
			PingTimeout:       s.PingTimeout,
			PingFaultFraction: s.PingFaultFraction,
			ConnectionTimeout: int(s.ConnectionTimeout / protocol.TicRate),
			RejoinTimeout:     int(s.RejoinTimeout / protocol.TicRate),
			MaxPacketLength:   protocol.DefaultPacketLength,
			MaxCatchUpTics:    2 * protocol.TicRate,
			ResyncAttempts:    5,
			SavegameRate:      64 * 1024,
			MaxPacketsPerSec:  200,
		},
		ApplicationData: ApplicationData{
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxBackups: 5,
			},
			API: APIConfig{
				Enabled:        true,
				Port:           DefaultAPIPort,
				AllowedOrigins: []string{"*"},
				RateLimitRPS:   20,
				RateLimitBurst: 40,
			},
			MQTT: MQTTConfig{
				Port:        1883,
				TopicPrefix: "ticlink",
			},
			Database: DatabaseConfig{
				Path:          filepath.Join("data", "ticlink.db"),
				RetentionDays: 30,
				CleanupTime:   "04:00",
			},
			LagMonitor: LagMonitorConfig{
				WarnPingMs:  300,
				IntervalSec: 60,
			},
			Health: HealthConfig{
				StallSec:          5,
				CheckIntervalSec:  10,
				DiskIntervalSec:   600,
				HeartbeatSec:      30,
				CPUWarnPercent:    90,
				MemoryWarnPercent: 90,
			},
		},
	}
}

// Load reads config.json from configDir, creating it with defaults on
// first run, then applies environment overrides.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		log.Info().Str("path", configPath).Msg("config file not found, creating default")
		cfg := DefaultConfig()
		cfg.path = configPath
		cfg.firstRun = true
		if err := cfg.Save(); err != nil {
			return nil, fmt.Errorf("failed to save default config: %w", err)
		}
		if err := cfg.ApplyEnv(filepath.Join(configDir, ".env")); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}
	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Persist fields added since the file was written.
	if err := cfg.Save(); err != nil {
		log.Warn().Err(err).Msg("failed to re-save config with updated defaults")
	}

	// Overrides are applied after saving so secrets from the environment
	// never land in config.json.
	if err := cfg.ApplyEnv(filepath.Join(configDir, ".env")); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetNetData returns a copy of the game configuration.
func (c *Config) GetNetData() NetData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.NetData
}

// SetNetData replaces the game configuration.
func (c *Config) SetNetData(data NetData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.NetData = data
}

// GetApplicationData returns a copy of the application configuration.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ApplicationData
}

// SetApplicationData replaces the application configuration.
func (c *Config) SetApplicationData(data ApplicationData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ApplicationData = data
}

// UpdateNetField sets one NetData field by its JSON name.
func (c *Config) UpdateNetField(key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, _ := json.Marshal(c.NetData)
	m := make(map[string]interface{})
	json.Unmarshal(data, &m)
	if _, ok := m[key]; !ok {
		return fmt.Errorf("unknown field %s", key)
	}
	m[key] = value

	updated, _ := json.Marshal(m)
	next := c.NetData
	if err := json.Unmarshal(updated, &next); err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
	}
	c.NetData = next
	return nil
}

// SetAdminPassword stores the hash of password.
func (c *Config) SetAdminPassword(password string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if password == "" {
		c.NetData.AdminPasswordHash = ""
		return
	}
	c.NetData.AdminPasswordHash = util.HashPassword(password)
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// IsFirstRun reports whether Load had to create the file.
func (c *Config) IsFirstRun() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.firstRun
}

// Session converts NetData into the session policy.
func (n NetData) Session() session.Config {
	return session.Config{
		MaxPlayers:        n.MaxPlayers,
		AllowJoins:        n.AllowJoins,
		JoinDelay:         n.JoinDelay,
		MaxPing:           uint32(max(n.MaxPing, 0)),
		PingTimeout:       n.PingTimeout,
		PingFaultFraction: n.PingFaultFraction,
		ConnectionTimeout: protocol.Tic(max(n.ConnectionTimeout, 1)) * protocol.TicRate,
		RejoinTimeout:     protocol.Tic(max(n.RejoinTimeout, 0)) * protocol.TicRate,
		Dedicated:         n.Dedicated,
		Application:       n.Application,
		Version:           byte(n.Version),
		Subversion:        byte(n.Subversion),
		ServerName:        n.ServerName,
		AdminPasswordHash: n.AdminPasswordHash,
	}
}

// PlayerNames lists the local players, the splitscreen one last.
func (n NetData) PlayerNames() []string {
	names := []string{n.PlayerName}
	if n.SecondName != "" {
		names = append(names, n.SecondName)
	}
	return names
}
