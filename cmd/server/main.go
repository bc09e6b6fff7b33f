package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"vaultguard/internal/config"
	"vaultguard/internal/cryptoutil"
	"vaultguard/internal/facade"
	"vaultguard/internal/lockfile"
	"vaultguard/internal/server"
	"vaultguard/internal/session"
	"vaultguard/internal/store"
	"vaultguard/internal/storewatch"
	"vaultguard/internal/sweeper"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "hash" {
		runHash(os.Args[2:])
		return
	}

	cfgPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log, closeLog, err := buildLogger(cfg.LogPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer closeLog()

	if err := run(cfg, log); err != nil {
		log.Error().Err(err).Msg("fatal")
		closeLog()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	guard := lockfile.New(cfg.Lock.Path, "vaultguard", cfg.Server.Port,
		cfg.Lock.KillTimeout, cfg.Lock.BindAttempts, cfg.Lock.BindBackoff, log)
	ln, err := guard.Acquire(cfg.Server.Host)
	if err != nil {
		return fmt.Errorf("acquire singleton lock: %w", err)
	}
	defer guard.Release()

	db, err := store.Open(store.Config{
		Driver: cfg.DB.Driver,
		Path:   cfg.DB.Path,
		Host:   cfg.DB.Host,
		Port:   cfg.DB.Port,
		User:   cfg.DB.User,
		Pass:   cfg.DB.Pass,
		Name:   cfg.DB.Name,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	reg := session.NewRegistry()
	srv := server.New(server.Options{
		MaxClients:    cfg.Server.MaxClients,
		SocketTimeout: cfg.Server.SocketTimeout,
		StorageDir:    cfg.Storage.Dir,
		MaxFileSize:   uint64(cfg.Storage.MaxFileSize),
	}, reg, db, cryptoutil.Suite{}, log)
	if err := srv.LoadPersisted(); err != nil {
		return fmt.Errorf("load persisted clients: %w", err)
	}

	observers := []sweeper.Observer{sweeper.LogObserver{Log: log}}
	if cfg.Sweep.RedisAddr != "" {
		robs := sweeper.NewRedisObserver(cfg.Sweep.RedisAddr, log)
		defer robs.Close()
		observers = append(observers, robs)
	}
	sweep := sweeper.New(reg, cfg.Sweep.Interval, cfg.Sweep.SessionTimeout,
		cfg.Sweep.TransferTimeout, log, observers...)
	sweep.Start()
	defer sweep.Stop()

	watch, err := storewatch.New(cfg.Storage.Dir, db, log)
	if err != nil {
		return fmt.Errorf("storage watcher: %w", err)
	}
	watch.Start()
	defer watch.Stop()

	if cfg.Admin.Addr != "" {
		auth := &facade.Auth{
			Username:     cfg.Admin.Username,
			PasswordHash: cfg.Admin.PasswordHash,
			Secret:       []byte(cfg.Admin.JWTSecret),
			TTL:          time.Duration(cfg.Admin.TokenTTLMin) * time.Minute,
		}
		mgmt := facade.New(reg, db, srv, auth, cfg.DB.Driver, log)
		adm, err := serveAdmin(cfg.Admin.Addr, mgmt, log)
		if err != nil {
			return fmt.Errorf("admin listener: %w", err)
		}
		defer adm.Close()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	log.Info().Str("addr", ln.Addr().String()).Int("max_clients", cfg.Server.MaxClients).Msg("serving")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		srv.Shutdown()
		<-errCh
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}
	log.Info().Msg("stopped")
	return nil
}

func buildLogger(path string) (zerolog.Logger, func(), error) {
	cw := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	if path == "" {
		return zerolog.New(cw).With().Timestamp().Logger(), func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return zerolog.Logger{}, nil, err
	}
	log := zerolog.New(zerolog.MultiLevelWriter(cw, f)).With().Timestamp().Logger()
	return log, func() { f.Close() }, nil
}

// runHash prints the bcrypt hash of a password for the admin config block.
func runHash(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: server hash <password>")
		os.Exit(2)
	}
	h, err := facade.HashPassword(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, "hash:", err)
		os.Exit(1)
	}
	fmt.Println(h)
}
