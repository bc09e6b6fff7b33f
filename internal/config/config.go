package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Server struct {
	Host          string
	Port          int
	MaxClients    int
	SocketTimeout time.Duration
}

type Storage struct {
	Dir         string
	MaxFileSize int64
}

type DB struct {
	Driver string
	Path   string
	Host   string
	Port   int
	User   string
	Pass   string
	Name   string
}

type Lock struct {
	Path         string
	KillTimeout  time.Duration
	BindAttempts int
	BindBackoff  time.Duration
}

type Sweep struct {
	Interval        time.Duration
	SessionTimeout  time.Duration
	TransferTimeout time.Duration
	RedisAddr       string
}

type Admin struct {
	Addr         string // empty disables the management listener
	Username     string
	PasswordHash string // bcrypt
	JWTSecret    string
	TokenTTLMin  int
}

type Config struct {
	Server  Server
	Storage Storage
	DB      DB
	Lock    Lock
	Sweep   Sweep
	Admin   Admin
	LogPath string
}

// Load reads the YAML config at path, falling back to defaults for every
// missing key. An empty path means defaults only. Configuration is read
// once here; nothing else consults the environment at call sites.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 9310)
	v.SetDefault("server.max_clients", 50)
	v.SetDefault("server.socket_timeout", "60s")
	v.SetDefault("storage.dir", "backups")
	v.SetDefault("storage.max_file_size", int64(4)<<30)
	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.path", "vaultguard.db")
	v.SetDefault("db.host", "127.0.0.1")
	v.SetDefault("db.port", 3306)
	v.SetDefault("db.user", "root")
	v.SetDefault("db.pass", "")
	v.SetDefault("db.name", "vaultguard")
	v.SetDefault("lock.path", "vaultguard.lock")
	v.SetDefault("lock.kill_timeout", "10s")
	v.SetDefault("lock.bind_attempts", 6)
	v.SetDefault("lock.bind_backoff", "500ms")
	v.SetDefault("sweep.interval", "60s")
	v.SetDefault("sweep.session_timeout", "600s")
	v.SetDefault("sweep.transfer_timeout", "900s")
	v.SetDefault("sweep.redis_addr", "")
	v.SetDefault("admin.addr", "")
	v.SetDefault("admin.username", "admin")
	v.SetDefault("admin.password_hash", "")
	v.SetDefault("admin.jwt_secret", "")
	v.SetDefault("admin.token_ttl_min", 60)
	v.SetDefault("log_path", "")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		Server: Server{
			Host:          v.GetString("server.host"),
			Port:          v.GetInt("server.port"),
			MaxClients:    v.GetInt("server.max_clients"),
			SocketTimeout: v.GetDuration("server.socket_timeout"),
		},
		Storage: Storage{
			Dir:         v.GetString("storage.dir"),
			MaxFileSize: v.GetInt64("storage.max_file_size"),
		},
		DB: DB{
			Driver: v.GetString("db.driver"),
			Path:   v.GetString("db.path"),
			Host:   v.GetString("db.host"),
			Port:   v.GetInt("db.port"),
			User:   v.GetString("db.user"),
			Pass:   v.GetString("db.pass"),
			Name:   v.GetString("db.name"),
		},
		Lock: Lock{
			Path:         v.GetString("lock.path"),
			KillTimeout:  v.GetDuration("lock.kill_timeout"),
			BindAttempts: v.GetInt("lock.bind_attempts"),
			BindBackoff:  v.GetDuration("lock.bind_backoff"),
		},
		Sweep: Sweep{
			Interval:        v.GetDuration("sweep.interval"),
			SessionTimeout:  v.GetDuration("sweep.session_timeout"),
			TransferTimeout: v.GetDuration("sweep.transfer_timeout"),
			RedisAddr:       v.GetString("sweep.redis_addr"),
		},
		Admin: Admin{
			Addr:         v.GetString("admin.addr"),
			Username:     v.GetString("admin.username"),
			PasswordHash: v.GetString("admin.password_hash"),
			JWTSecret:    v.GetString("admin.jwt_secret"),
			TokenTTLMin:  v.GetInt("admin.token_ttl_min"),
		},
		LogPath: v.GetString("log_path"),
	}
	if cfg.Server.MaxClients <= 0 {
		cfg.Server.MaxClients = 50
	}
	if cfg.Sweep.Interval <= 0 {
		cfg.Sweep.Interval = time.Minute
	}
	return cfg, nil
}
