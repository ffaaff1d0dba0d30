package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
gateway:
  id: "home"
bridges:
  - name: "Hall Bridge"
    host: "192.168.1.20"
    token: "abc123"
    hashed_token: true
callback:
  host: "192.168.1.10"
web_api:
  token: "webtoken"
  refresh_interval: 30
  sync_config: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Gateway.ID != "home" {
		t.Errorf("Gateway.ID = %q", cfg.Gateway.ID)
	}
	if len(cfg.Bridges) != 1 || cfg.Bridges[0].Port != 8080 || !cfg.Bridges[0].HashedToken {
		t.Errorf("Bridges = %+v", cfg.Bridges)
	}
	if cfg.BridgeAPI.RefreshType != RefreshCallback || cfg.BridgeAPI.RequestDelayMS != 250 {
		t.Errorf("BridgeAPI = %+v", cfg.BridgeAPI)
	}
	if cfg.Callback.Port != 51989 {
		t.Errorf("Callback.Port = %d, want 51989", cfg.Callback.Port)
	}
	if cfg.CallbackURL() != "http://192.168.1.10:51989/nuki-api-bridge" {
		t.Errorf("CallbackURL() = %q", cfg.CallbackURL())
	}
	if !cfg.WebAPIEnabled() || !cfg.WebAPI.SyncConfig || cfg.WebAPI.URL != "https://api.nuki.io" {
		t.Errorf("WebAPI = %+v", cfg.WebAPI)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "invalid: [yaml: content")); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("NUKIGW_WEB_API_TOKEN", "from-env")
	t.Setenv("NUKIGW_DATABASE_PATH", "/var/lib/nuki/gw.db")
	t.Setenv("NUKIGW_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load(writeConfig(t, `
web_api:
  refresh_interval: 60
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WebAPI.Token != "from-env" || cfg.Database.Path != "/var/lib/nuki/gw.db" {
		t.Errorf("overrides not applied: %+v / %+v", cfg.WebAPI, cfg.Database)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("Kafka.Brokers = %v", cfg.Kafka.Brokers)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Bridges = []BridgeConfig{{Name: "b", Host: "10.0.0.2", Port: 8080, Token: "t"}}
		cfg.Callback.Host = "10.0.0.1"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"nothing to poll", func(c *Config) { c.Bridges = nil }, "no active bridge"},
		{"disabled bridge only", func(c *Config) { c.Bridges[0].Disabled = true }, "no active bridge"},
		{"web only", func(c *Config) {
			c.Bridges = nil
			c.WebAPI.Token = "x"
			c.WebAPI.RefreshInterval = 10
		}, ""},
		{"bridge without token", func(c *Config) { c.Bridges[0].Token = "" }, "bridges[0].token"},
		{"callback port too low", func(c *Config) { c.Callback.Port = 8080 }, "callback.port"},
		{"callback host missing", func(c *Config) { c.Callback.Host = "" }, "callback.host"},
		{"polling without interval", func(c *Config) {
			c.BridgeAPI.RefreshType = RefreshPolling
			c.BridgeAPI.RefreshInterval = 0
		}, "refresh_interval"},
		{"bad refresh type", func(c *Config) { c.BridgeAPI.RefreshType = "push" }, "refresh_type"},
		{"bad qos", func(c *Config) { c.MQTT.QoS = 3 }, "mqtt.qos"},
		{"influx incomplete", func(c *Config) { c.InfluxDB.Enabled = true }, "influxdb"},
		{"kafka incomplete", func(c *Config) { c.Kafka.Enabled = true }, "kafka"},
		{"short jwt secret", func(c *Config) { c.Security.JWT.Secret = "short" }, "jwt.secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := defaultConfig()
	cfg.Gateway.ID = ""
	cfg.MQTT.QoS = 5

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error")
	}
	for _, want := range []string{"gateway.id", "mqtt.qos", "no active bridge"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}
