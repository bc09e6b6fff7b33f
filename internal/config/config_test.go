package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Server.Port != 9310 || cfg.Server.MaxClients != 50 {
		t.Fatalf("server defaults %+v", cfg.Server)
	}
	if cfg.Server.SocketTimeout != 60*time.Second {
		t.Fatalf("socket timeout %v", cfg.Server.SocketTimeout)
	}
	if cfg.Sweep.SessionTimeout != 600*time.Second || cfg.Sweep.TransferTimeout != 900*time.Second {
		t.Fatalf("sweep defaults %+v", cfg.Sweep)
	}
	if cfg.Storage.MaxFileSize != int64(4)<<30 {
		t.Fatalf("max file size %d", cfg.Storage.MaxFileSize)
	}
	if cfg.DB.Driver != "sqlite" {
		t.Fatalf("db driver %q", cfg.DB.Driver)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  port: 7777
  max_clients: 5
storage:
  dir: /tmp/vault
db:
  driver: mysql
  name: vault_prod
sweep:
  interval: 5s
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 7777 || cfg.Server.MaxClients != 5 {
		t.Fatalf("server %+v", cfg.Server)
	}
	if cfg.Storage.Dir != "/tmp/vault" {
		t.Fatalf("storage %+v", cfg.Storage)
	}
	if cfg.DB.Driver != "mysql" || cfg.DB.Name != "vault_prod" {
		t.Fatalf("db %+v", cfg.DB)
	}
	if cfg.Sweep.Interval != 5*time.Second {
		t.Fatalf("interval %v", cfg.Sweep.Interval)
	}
	// Untouched keys keep defaults.
	if cfg.Sweep.SessionTimeout != 600*time.Second {
		t.Fatalf("session timeout %v", cfg.Sweep.SessionTimeout)
	}
}

func TestMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("missing explicit config accepted")
	}
}
