package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/ticlink-project/ticlink/internal/protocol"
	"github.com/ticlink-project/ticlink/internal/session"
	"github.com/ticlink-project/ticlink/internal/sim"
)

// ValidationError is one problem found in the configuration.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate checks the whole configuration.
func Validate(cfg *Config) *ValidationResult {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	result := &ValidationResult{}
	validateNetData(&cfg.NetData, result)
	validateApplicationData(&cfg.ApplicationData, cfg.NetData.Port, result)
	return result
}

func validateNetData(data *NetData, result *ValidationResult) {
	validatePort(data.Port, "net_data.port", result)

	if data.MaxPlayers < 1 || data.MaxPlayers > protocol.MaxPlayers {
		result.AddError("net_data.max_players",
			fmt.Sprintf("must be between 1 and %d", protocol.MaxPlayers))
	}
	if _, ok := sim.ParseGameType(data.GameType); !ok {
		result.AddError("net_data.game_type", fmt.Sprintf("unknown game type %q", data.GameType))
	}
	if strings.TrimSpace(data.Map) == "" {
		result.AddError("net_data.map", "map is required")
	}
	if strings.TrimSpace(data.Application) == "" {
		result.AddError("net_data.application", "application name is required")
	}
	if data.Version < 0 || data.Version > 255 || data.Subversion < 0 || data.Subversion > 255 {
		result.AddError("net_data.version", "version and subversion must fit in a byte")
	}
	if !session.ValidName(data.PlayerName) {
		result.AddError("net_data.player_name", fmt.Sprintf("invalid player name %q", data.PlayerName))
	}
	if data.SecondName != "" && !session.ValidName(data.SecondName) {
		result.AddError("net_data.second_player_name", fmt.Sprintf("invalid player name %q", data.SecondName))
	}

	if data.MaxPacketLength <= protocol.ServerTicsHeaderSize+protocol.TicCmdSize || data.MaxPacketLength > protocol.MaxPacketLength {
		result.AddError("net_data.max_packet_length",
			fmt.Sprintf("must be at most %d", protocol.MaxPacketLength))
	} else if data.MaxPacketLength > 1400 {
		result.AddWarning("net_data.max_packet_length", "packets over 1400 bytes may fragment on the internet")
	}
	if data.MaxCatchUpTics < 1 {
		result.AddError("net_data.max_catchup_tics", "must be at least 1")
	}
	if data.ConnectionTimeout < 1 {
		result.AddError("net_data.connection_timeout_sec", "must be at least 1 second")
	}
	if data.JoinDelay < 0 {
		result.AddError("net_data.join_delay_sec", "must not be negative")
	}
	if data.PingFaultFraction < 0 || data.PingFaultFraction > 1 {
		result.AddError("net_data.ping_fault_fraction", "must be between 0 and 1")
	}
	if data.MaxPing > 0 && data.MaxPing < 100 {
		result.AddWarning("net_data.max_ping_ms", "a ping limit under 100ms will kick most remote players")
	}
	if data.ResyncAttempts == 0 {
		result.AddWarning("net_data.resync_attempts", "desynced players will never be kicked")
	}
	if data.MaxPacketsPerSec < 1 {
		result.AddWarning("net_data.max_packets_per_sec", "flood protection is disabled")
	}
	if data.AdminPasswordHash == "" {
		result.AddWarning("net_data.admin_password_hash", "remote admin login is disabled")
	}
}

func validateApplicationData(data *ApplicationData, gamePort int, result *ValidationResult) {
	if data.API.Enabled {
		validatePort(data.API.Port, "application_data.api.port", result)
		if data.API.Port == gamePort {
			result.AddError("application_data.api.port", "API and game must use different ports")
		}
		if data.API.Token == "" {
			result.AddWarning("application_data.api.token", "control endpoints are open to anyone who can reach the API")
		}
		if data.API.RateLimitRPS < 1 {
			result.AddWarning("application_data.api.rate_limit_rps",
				"rate limit is disabled (0 RPS), this may expose the API to abuse")
		}
	}

	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application_data.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application_data.mqtt.port", "invalid MQTT port")
		}
		if data.MQTT.UseTLS && (data.MQTT.CertFile == "") != (data.MQTT.KeyFile == "") {
			result.AddError("application_data.mqtt.cert_file", "client certificate and key must be set together")
		}
	}

	if strings.TrimSpace(data.Database.Path) == "" {
		result.AddError("application_data.database.path", "database path is required")
	}
	if data.LagMonitor.IntervalSec < 1 {
		result.AddWarning("application_data.lag_monitor.interval_sec", "lag alerts are disabled")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsPortAvailable reports whether a UDP port can be bound.
func IsPortAvailable(port int) bool {
	conn, err := net.ListenPacket("udp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
