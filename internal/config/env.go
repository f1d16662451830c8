package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/ticlink-project/ticlink/internal/util"
)

// EnvPrefix starts every environment override.
const EnvPrefix = "TICLINK_"

type override struct {
	key   string
	apply func(c *Config, v string) error
}

func intField(dst func(c *Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func boolField(dst func(c *Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

func stringField(dst func(c *Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

var overrides = []override{
	{"PORT", intField(func(c *Config) *int { return &c.NetData.Port })},
	{"SERVER_NAME", stringField(func(c *Config) *string { return &c.NetData.ServerName })},
	{"PLAYER_NAME", stringField(func(c *Config) *string { return &c.NetData.PlayerName })},
	{"DEDICATED", boolField(func(c *Config) *bool { return &c.NetData.Dedicated })},
	{"MAX_PLAYERS", intField(func(c *Config) *int { return &c.NetData.MaxPlayers })},
	{"MAX_PING", intField(func(c *Config) *int { return &c.NetData.MaxPing })},
	{"ADMIN_PASSWORD", func(c *Config, v string) error {
		c.NetData.AdminPasswordHash = ""
		if v != "" {
			c.NetData.AdminPasswordHash = util.HashPassword(v)
		}
		return nil
	}},
	{"LOG_LEVEL", stringField(func(c *Config) *string { return &c.ApplicationData.Logging.Level })},
	{"LOG_DIR", stringField(func(c *Config) *string { return &c.ApplicationData.Logging.Directory })},
	{"API_ENABLED", boolField(func(c *Config) *bool { return &c.ApplicationData.API.Enabled })},
	{"API_PORT", intField(func(c *Config) *int { return &c.ApplicationData.API.Port })},
	{"API_TOKEN", stringField(func(c *Config) *string { return &c.ApplicationData.API.Token })},
	{"MQTT_ENABLED", boolField(func(c *Config) *bool { return &c.ApplicationData.MQTT.Enabled })},
	{"MQTT_BROKER", stringField(func(c *Config) *string { return &c.ApplicationData.MQTT.BrokerURL })},
	{"MQTT_PORT", intField(func(c *Config) *int { return &c.ApplicationData.MQTT.Port })},
	{"DB_PATH", stringField(func(c *Config) *string { return &c.ApplicationData.Database.Path })},
}

// ApplyEnv loads envFile when it exists and applies every TICLINK_*
// variable. Variables already set in the process win over the file.
func (c *Config) ApplyEnv(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	for _, o := range overrides {
		name := EnvPrefix + o.key
		v, ok := os.LookupEnv(name)
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		c.mu.Lock()
		err := o.apply(c, v)
		c.mu.Unlock()
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		log.Debug().Str("variable", name).Msg("environment override applied")
	}
	return nil
}
