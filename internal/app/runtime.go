// Package app composes the service: storage, directory, group table, hub,
// protocol services and the HTTP listener.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"weat-sync/go-backend/internal/config"
	"weat-sync/go-backend/internal/domains/group"
	"weat-sync/go-backend/internal/domains/group/usecase"
	"weat-sync/go-backend/internal/domains/presence"
	"weat-sync/go-backend/internal/metrics"
	"weat-sync/go-backend/internal/platform/privacylog"
	"weat-sync/go-backend/internal/platform/ratelimiter"
	"weat-sync/go-backend/internal/storage"
	"weat-sync/go-backend/internal/transport/ws"
	"weat-sync/go-backend/internal/wire"
)

type Runtime struct {
	cfg       config.Config
	log       *slog.Logger
	table     *group.Table
	hub       *ws.Hub
	store     storage.GroupStore
	directory storage.Directory
	metrics   *metrics.Metrics
	server    *http.Server
}

// New wires the service and hydrates the group table from durable storage.
// The listener is not started here: startup load always completes before
// any connection is accepted.
func New(cfg config.Config) (*Runtime, error) {
	log := newLogger(cfg.Log.Level)

	store, err := openGroupStore(cfg.Storage)
	if err != nil {
		return nil, err
	}
	directory, err := storage.OpenDirectory(cfg.Storage.DirectoryPath)
	if err != nil {
		store.Close()
		return nil, err
	}

	table := group.NewTable()
	if err := hydrate(table, store, log); err != nil {
		store.Close()
		directory.Close()
		return nil, err
	}

	hub := ws.NewHub(log)
	mets := metrics.New(prometheus.NewRegistry(),
		func() float64 { return float64(table.Len()) },
		func() float64 { return float64(hub.ConnCount()) },
	)

	fanout := &usecase.FanoutService{
		Emit: func(topic string, frame wire.Frame) {
			mets.BroadcastsTotal.Inc()
			hub.Emit(topic, frame)
		},
		SessionTokens: directory.SessionTokens,
		RecordError:   mets.RecordError,
		Log:           log,
	}
	membership := &usecase.MembershipService{
		Table:        table,
		Persist:      store.Update,
		NotifyGroup:  fanout.NotifyGroup,
		NotifyInvite: fanout.NotifyUser,
		Profile:      directory.Profile,
		RecordError:  mets.RecordError,
		Log:          log,
	}
	binding := &presence.BindingService{
		UserBySession: directory.UserBySession,
		SetOnline:     directory.SetOnline,
		TopicSize:     hub.TopicSize,
		RecordError:   mets.RecordError,
		Log:           log,
	}

	wsServer := ws.NewServer(hub, membership, binding, cfg.Server.AllowedOrigins, log)
	idleTTL := time.Duration(cfg.Limits.IdleTTLSec) * time.Second
	wsServer.InviteLimiter = ratelimiter.New(cfg.Limits.InviteRPS, cfg.Limits.Burst, idleTTL)
	wsServer.UpdateLimiter = ratelimiter.New(cfg.Limits.UpdateRPS, cfg.Limits.Burst, idleTTL)
	wsServer.Metrics = mets

	mux := http.NewServeMux()
	mux.Handle("/ws", wsServer)
	mux.Handle("/metrics", promhttp.HandlerFor(mets.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return &Runtime{
		cfg:       cfg,
		log:       log,
		table:     table,
		hub:       hub,
		store:     store,
		directory: directory,
		metrics:   mets,
		server: &http.Server{
			Addr:    net.JoinHostPort("", fmt.Sprint(cfg.Server.Port)),
			Handler: mux,
		},
	}, nil
}

// Run serves until ctx is cancelled, then drains connections and closes the
// stores.
func (r *Runtime) Run(ctx context.Context) error {
	reaperDone := make(chan struct{})
	go r.reapLoop(ctx, reaperDone)

	errCh := make(chan error, 1)
	go func() {
		r.log.Info("listening", "addr", r.server.Addr)
		errCh <- r.server.ListenAndServe()
	}()

	var err error
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = r.server.Shutdown(shutdownCtx)
	case err = <-errCh:
	}
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}

	r.hub.Close()
	<-reaperDone
	if closeErr := r.store.Close(); err == nil {
		err = closeErr
	}
	if closeErr := r.directory.Close(); err == nil {
		err = closeErr
	}
	return err
}

func (r *Runtime) reapLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	if r.cfg.Reaper.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(r.cfg.Reaper.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			reaped := r.table.Sweep(now, r.cfg.Reaper.IdleTTL)
			if len(reaped) > 0 {
				r.metrics.GroupsReaped.Add(float64(len(reaped)))
				r.log.Info("reaped idle groups", "count", len(reaped))
			}
		}
	}
}

func hydrate(table *group.Table, store storage.GroupStore, log *slog.Logger) error {
	records, err := store.LoadAll()
	if err != nil {
		return fmt.Errorf("load groups: %w", err)
	}
	now := time.Now().UTC()
	loaded := 0
	for _, rec := range records {
		if len(rec.Blob) == 0 {
			continue
		}
		state, err := wire.DecodeGroupState(rec.Blob)
		if err != nil {
			log.Warn("skipping undecodable group blob", "group_id", rec.ID, "error", err)
			continue
		}
		table.Set(rec.ID, state, now)
		loaded++
	}
	log.Info("group table hydrated", "groups", loaded)
	return nil
}

func openGroupStore(cfg config.StorageConfig) (storage.GroupStore, error) {
	switch cfg.Driver {
	case "file":
		return storage.OpenFileGroupStore(cfg.Path, cfg.Passphrase)
	default:
		return storage.OpenGroupStore(cfg.Path)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	base := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(privacylog.WrapHandler(base))
}
