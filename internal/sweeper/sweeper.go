// Package sweeper runs the periodic housekeeping pass: evicting idle
// sessions and discarding stalled partial transfers. Eviction is purely an
// in-memory liveness concern; persisted records are never touched here.
package sweeper

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"vaultguard/internal/session"
)

// Observer receives the counts of each completed pass.
type Observer interface {
	SweepCompleted(evicted, purged int)
}

// Scheduler owns the sweep loop.
type Scheduler struct {
	reg             *session.Registry
	interval        time.Duration
	sessionTimeout  time.Duration
	transferTimeout time.Duration
	observers       []Observer
	log             zerolog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

func New(reg *session.Registry, interval, sessionTimeout, transferTimeout time.Duration, log zerolog.Logger, observers ...Observer) *Scheduler {
	return &Scheduler{
		reg:             reg,
		interval:        interval,
		sessionTimeout:  sessionTimeout,
		transferTimeout: transferTimeout,
		observers:       observers,
		log:             log,
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
}

// Start runs the sweep loop in the background.
func (s *Scheduler) Start() {
	go s.run()
}

func (s *Scheduler) run() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep performs one pass and reports the counts to every observer.
func (s *Scheduler) Sweep() (evicted, purged int) {
	now := time.Now()
	gone := s.reg.EvictIdle(now.Add(-s.sessionTimeout))
	for _, c := range gone {
		s.log.Info().Str("client", c.Name).Str("id", c.ID.String()).Msg("session evicted")
	}
	evicted = len(gone)
	purged = s.reg.PurgeStaleTransfers(now.Add(-s.transferTimeout))
	for _, o := range s.observers {
		o.SweepCompleted(evicted, purged)
	}
	return evicted, purged
}

// Stop ends the loop and waits for the current pass to finish.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// LogObserver writes sweep counts to the structured log.
type LogObserver struct {
	Log zerolog.Logger
}

func (o LogObserver) SweepCompleted(evicted, purged int) {
	if evicted == 0 && purged == 0 {
		o.Log.Debug().Msg("sweep pass clean")
		return
	}
	o.Log.Info().Int("evicted", evicted).Int("purged", purged).Msg("sweep pass")
}

// RedisObserver accumulates sweep counters in redis so external dashboards
// can read them without touching the server.
type RedisObserver struct {
	rdb *redis.Client
	log zerolog.Logger
}

func NewRedisObserver(addr string, log zerolog.Logger) *RedisObserver {
	return &RedisObserver{
		rdb: redis.NewClient(&redis.Options{Addr: addr}),
		log: log,
	}
}

func (o *RedisObserver) SweepCompleted(evicted, purged int) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pipe := o.rdb.Pipeline()
	pipe.IncrBy(ctx, "vaultguard:sweep:evicted", int64(evicted))
	pipe.IncrBy(ctx, "vaultguard:sweep:purged", int64(purged))
	pipe.Set(ctx, "vaultguard:sweep:last", time.Now().Unix(), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		o.log.Warn().Err(err).Msg("publish sweep counters failed")
	}
}

// Close releases the redis connection.
func (o *RedisObserver) Close() error { return o.rdb.Close() }
