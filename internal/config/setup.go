package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// RunSetupWizard asks for the settings a first server needs and saves
// them.
func RunSetupWizard(cfg *Config, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "ticlink first run setup")
	fmt.Fprintln(out)

	nd := cfg.GetNetData()
	app := cfg.GetApplicationData()

	fmt.Fprintln(out, "-- Server --")
	nd.ServerName = promptString(reader, out, "Server name", nd.ServerName)
	nd.Port = promptInt(reader, out, "Game port (UDP)", nd.Port)
	nd.MaxPlayers = promptInt(reader, out, "Maximum players", nd.MaxPlayers)
	nd.Dedicated = promptBool(reader, out, "Dedicated server (no local player)", nd.Dedicated)
	if !nd.Dedicated {
		nd.PlayerName = promptString(reader, out, "Your player name", nd.PlayerName)
	}
	nd.MaxPing = promptInt(reader, out, "Ping limit in ms (0 disables)", nd.MaxPing)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "-- Remote admin --")
	if pw := promptString(reader, out, "Admin password (blank keeps the current one)", ""); pw != "" {
		cfg.SetAdminPassword(pw)
		nd.AdminPasswordHash = cfg.GetNetData().AdminPasswordHash
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "-- Control API --")
	app.API.Enabled = promptBool(reader, out, "Enable REST API", app.API.Enabled)
	if app.API.Enabled {
		app.API.Port = promptInt(reader, out, "API port", app.API.Port)
		app.API.Token = promptString(reader, out, "API token (blank leaves control endpoints open)", app.API.Token)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "-- MQTT telemetry --")
	app.MQTT.Enabled = promptBool(reader, out, "Enable MQTT telemetry", app.MQTT.Enabled)
	if app.MQTT.Enabled {
		app.MQTT.BrokerURL = promptString(reader, out, "Broker host", app.MQTT.BrokerURL)
		app.MQTT.Port = promptInt(reader, out, "Broker port", app.MQTT.Port)
	}

	cfg.SetNetData(nd)
	cfg.SetApplicationData(app)

	result := Validate(cfg)
	if !result.IsValid() {
		fmt.Fprintln(out, "\nConfiguration has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - [%s] %s\n", e.Field, e.Message)
		}
		retry := promptString(reader, out, "Would you like to try again? (yes/no)", "yes")
		if strings.ToLower(retry) == "yes" {
			return RunSetupWizard(cfg, reader, out)
		}
		return fmt.Errorf("configuration validation failed")
	}
	for _, w := range result.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	fmt.Fprintln(out, "\nConfiguration saved.")
	return nil
}

func promptString(reader *bufio.Reader, out io.Writer, prompt string, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(out, "  %s: ", prompt)
	}
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}

func promptInt(reader *bufio.Reader, out io.Writer, prompt string, defaultVal int) int {
	fmt.Fprintf(out, "  %s [%d]: ", prompt, defaultVal)
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(out, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func promptBool(reader *bufio.Reader, out io.Writer, prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}
	fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultStr)
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(strings.ToLower(input))
	if input == "" {
		return defaultVal
	}
	return input == "yes" || input == "y" || input == "true" || input == "1"
}
