package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ticlink-project/ticlink/internal/protocol"
	"github.com/ticlink-project/ticlink/internal/util"
)

func TestLoadCreatesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.IsFirstRun() {
		t.Fatalf("first load not reported as first run")
	}
	if _, err := os.Stat(filepath.Join(dir, DefaultConfigFile)); err != nil {
		t.Fatalf("config not written: %v", err)
	}

	again, err := Load(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.IsFirstRun() {
		t.Fatalf("second load reported as first run")
	}
	if again.GetNetData().Port != DefaultGamePort {
		t.Fatalf("port = %d", again.GetNetData().Port)
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	dir := t.TempDir()
	body := `{"net_data": {"server_name": "Green Hill", "max_players": 4}}`
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	n := cfg.GetNetData()
	if n.ServerName != "Green Hill" || n.MaxPlayers != 4 {
		t.Fatalf("file values lost: %+v", n)
	}
	if n.MaxPacketLength != protocol.DefaultPacketLength {
		t.Fatalf("missing field not defaulted: %d", n.MaxPacketLength)
	}
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	env := "TICLINK_SERVER_NAME=Chemical Plant\nTICLINK_ADMIN_PASSWORD=hunter2\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TICLINK_PORT", "6000")
	t.Setenv("TICLINK_SERVER_NAME", "")
	os.Unsetenv("TICLINK_SERVER_NAME")
	t.Setenv("TICLINK_ADMIN_PASSWORD", "")
	os.Unsetenv("TICLINK_ADMIN_PASSWORD")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	n := cfg.GetNetData()
	if n.Port != 6000 {
		t.Fatalf("port = %d", n.Port)
	}
	if n.ServerName != "Chemical Plant" {
		t.Fatalf("server name = %q", n.ServerName)
	}
	if n.AdminPasswordHash != util.HashPassword("hunter2") {
		t.Fatalf("admin password not hashed")
	}

	saved, err := os.ReadFile(cfg.Path())
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(saved), "Chemical Plant") {
		t.Fatalf("environment override persisted to config.json")
	}
}

func TestEnvRejectsBadNumbers(t *testing.T) {
	t.Setenv("TICLINK_API_PORT", "many")
	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(""); err == nil {
		t.Fatalf("bad number accepted")
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	if r := Validate(cfg); !r.IsValid() {
		t.Fatalf("defaults invalid: %v", r.Errors)
	}

	cfg.NetData.MaxPlayers = protocol.MaxPlayers + 1
	cfg.NetData.PlayerName = ""
	cfg.ApplicationData.API.Port = cfg.NetData.Port
	r := Validate(cfg)
	fields := map[string]bool{}
	for _, e := range r.Errors {
		fields[e.Field] = true
	}
	for _, want := range []string{"net_data.max_players", "net_data.player_name", "application_data.api.port"} {
		if !fields[want] {
			t.Errorf("no error for %s: %v", want, r.Errors)
		}
	}
}

func TestSetupWizard(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	answers := strings.Join([]string{
		"Emerald Coast", // server name
		"5100",          // port
		"6",             // max players
		"yes",           // dedicated
		"",              // ping limit
		"s3cret",        // admin password
		"",              // api enabled
		"",              // api port
		"tok",           // api token
		"no",            // mqtt
	}, "\n") + "\n"

	var out bytes.Buffer
	if err := RunSetupWizard(cfg, strings.NewReader(answers), &out); err != nil {
		t.Fatalf("wizard: %v\n%s", err, out.String())
	}
	n := cfg.GetNetData()
	if n.ServerName != "Emerald Coast" || n.Port != 5100 || n.MaxPlayers != 6 || !n.Dedicated {
		t.Fatalf("answers not applied: %+v", n)
	}
	if n.AdminPasswordHash != util.HashPassword("s3cret") {
		t.Fatalf("password not stored")
	}
	if cfg.GetApplicationData().API.Token != "tok" {
		t.Fatalf("api token not stored")
	}
}
