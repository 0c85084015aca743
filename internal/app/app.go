// Package app wires a battle process: configuration, logging, peer links and
// the tick loop.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/decred/slog"
	"github.com/hako/durafmt"
	"golang.org/x/sync/errgroup"

	battle "real-pet/battle"
	"real-pet/battle/internal/net/ws"
	"real-pet/battle/internal/script"
	"real-pet/battle/internal/telemetry"
	"real-pet/battle/logging"
	loggingSinks "real-pet/battle/logging/sinks"
)

const (
	battlePath      = "/battle"
	shutdownTimeout = 5 * time.Second

	metricKeyTickOverruns = "app_tick_overruns_total"
)

// Run plays one battle until it exits, MaxFrames is reached or ctx is
// cancelled.
func Run(ctx context.Context, cfg Config) error {
	backend := slog.NewBackend(os.Stderr)
	log := backend.Logger("BATL")
	logger := telemetry.WrapSlog(log)

	cfg = applyEnv(cfg, os.Getenv, logger)
	if level, err := telemetry.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	} else {
		logger.Printf("%v, using info", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	metrics := &logging.Metrics{}
	sinks, closeSinks, err := buildSinks(cfg)
	if err != nil {
		return err
	}
	defer closeSinks()
	router := logging.NewRouter(logging.ClockFunc(time.Now), cfg.Logging, metrics, sinks)
	defer func() {
		if cerr := router.Close(context.Background()); cerr != nil {
			logger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	packages, err := loadPackages(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	linkCfg := ws.DefaultConfig(cfg.LocalIndex)
	linkCfg.Logger = backendLogger(backend, "LINK", log.Level())
	linkCfg.Publisher = router
	acceptor := ws.NewAcceptor(linkCfg)

	diag := &diagnostics{}
	if cfg.Listen != "" {
		handler := newHTTPHandler(httpHandlerConfig{
			Acceptor:    acceptor,
			Diagnostics: diag,
			Metrics:     metrics,
			Router:      router,
			TickRate:    cfg.TickRate,
		})
		srv := &http.Server{Addr: cfg.Listen, Handler: handler}
		g.Go(func() error {
			logger.Printf("listening on %s", cfg.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancelShutdown()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer cancel()
		links, err := connectPeers(gctx, cfg, acceptor, linkCfg)
		defer closeLinks(links, logger)
		if err != nil {
			return err
		}

		battleCfg := cfg.Battle
		battleCfg.Logger = logger
		battleCfg.Metrics = telemetry.WrapMetrics(metrics)
		scene, err := battle.NewScene(battleCfg, buildProps(cfg, packages, links), router)
		if err != nil {
			return fmt.Errorf("failed to construct battle: %w", err)
		}
		return play(gctx, scene, NewBot(cfg.BotSeed, cfg.LocalIndex), cfg, logger, telemetry.WrapMetrics(metrics), diag)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func backendLogger(backend *slog.Backend, subsystem string, level slog.Level) telemetry.Logger {
	log := backend.Logger(subsystem)
	log.SetLevel(level)
	return telemetry.WrapSlog(log)
}

// buildSinks returns the sinks enabled in cfg and a func closing any file
// they opened.
func buildSinks(cfg Config) ([]logging.NamedSink, func(), error) {
	var sinks []logging.NamedSink
	closer := func() {}
	if cfg.Logging.HasSink("console") {
		sinks = append(sinks, logging.NamedSink{Name: "console", Sink: loggingSinks.NewConsole(os.Stdout)})
	}
	if cfg.LogJSON || cfg.Logging.HasSink("json") {
		var w io.Writer = os.Stdout
		if path := cfg.Logging.JSON.FilePath; path != "" {
			file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, closer, fmt.Errorf("open json log: %w", err)
			}
			w = file
			closer = func() { file.Close() }
		}
		sinks = append(sinks, logging.NamedSink{Name: "json", Sink: loggingSinks.NewJSON(w, cfg.Logging.JSON.FlushInterval)})
	}
	return sinks, closer, nil
}

// loadedPackages holds the script sources read at startup.
type loadedPackages struct {
	battle  *script.Package
	players []*script.Package
}

func loadPackages(cfg Config) (loadedPackages, error) {
	var loaded loadedPackages
	if cfg.BattleScript != "" {
		pkg, err := readPackage("battle", cfg.BattleScript, 0)
		if err != nil {
			return loaded, err
		}
		loaded.battle = pkg
	}
	loaded.players = make([]*script.Package, cfg.Players)
	for i, path := range cfg.PlayerScripts {
		if path == "" {
			continue
		}
		pkg, err := readPackage(fmt.Sprintf("player-%d", i), path, i+1)
		if err != nil {
			return loaded, err
		}
		loaded.players[i] = pkg
	}
	return loaded, nil
}

func readPackage(id, path string, namespace int) (*script.Package, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script %s: %w", path, err)
	}
	return &script.Package{ID: id, Path: path, Namespace: namespace, Source: string(source)}, nil
}

// connectPeers dials every configured peer and accepts the rest until one
// link per remote player is open.
func connectPeers(ctx context.Context, cfg Config, acceptor *ws.Acceptor, linkCfg ws.Config) ([]*ws.Link, error) {
	want := cfg.Players - 1
	links := make([]*ws.Link, 0, want)
	seen := make(map[int]bool, want)
	add := func(l *ws.Link) error {
		remote := l.Remote()
		if remote < 0 || remote >= cfg.Players || seen[remote] {
			l.Close()
			return fmt.Errorf("unexpected peer index %d", remote)
		}
		seen[remote] = true
		links = append(links, l)
		return nil
	}

	for _, url := range cfg.Peers {
		l, err := ws.Dial(ctx, url, linkCfg)
		if err != nil {
			return links, err
		}
		if err := add(l); err != nil {
			return links, err
		}
	}
	for len(links) < want {
		l, err := acceptor.Accept(ctx)
		if err != nil {
			return links, fmt.Errorf("waiting for %d more peers: %w", want-len(links), err)
		}
		if err := add(l); err != nil {
			return links, err
		}
	}
	return links, nil
}

func closeLinks(links []*ws.Link, logger telemetry.Logger) {
	for _, l := range links {
		if err := l.Close(); err != nil {
			logger.Printf("failed to close link to player %d: %v", l.Remote(), err)
		}
	}
}

func buildProps(cfg Config, packages loadedPackages, links []*ws.Link) battle.Props {
	props := battle.Props{Battle: packages.battle}
	for i := 0; i < cfg.Players; i++ {
		props.Players = append(props.Players, battle.PlayerSetup{
			Index:   i,
			Local:   i == cfg.LocalIndex,
			Package: packages.players[i],
		})
	}
	for _, l := range links {
		props.Senders = append(props.Senders, l)
		props.Receivers = append(props.Receivers, battle.PeerReceiver{Index: l.Remote(), Receiver: l})
	}
	return props
}

// play drives the scene at the configured tick rate. A tick whose update runs
// past its budget is logged and counted.
func play(ctx context.Context, scene *battle.Scene, source InputSource, cfg Config, logger telemetry.Logger, metrics telemetry.Metrics, diag *diagnostics) error {
	budget := time.Second / time.Duration(cfg.TickRate)
	ticker := time.NewTicker(budget)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Printf("battle interrupted at frame %d after %s", scene.Time(), elapsed(scene))
			return nil
		case <-ticker.C:
		}

		start := time.Now()
		scene.Update(ctx, source.Controls(scene.Time()))
		if took := time.Since(start); took > budget {
			metrics.Add(metricKeyTickOverruns, 1)
			logger.Printf("tick at frame %d took %s, budget %s", scene.Time(), took, budget)
		}
		diag.record(scene)

		if scene.Exited() || (cfg.MaxFrames > 0 && int(scene.Time()) >= cfg.MaxFrames) {
			digest, err := scene.Digest()
			if err != nil {
				return fmt.Errorf("digest final state: %w", err)
			}
			logger.Printf("battle finished at frame %d after %s, digest %s", scene.Time(), elapsed(scene), digest)
			return nil
		}
	}
}

func elapsed(scene *battle.Scene) string {
	return durafmt.Parse(time.Since(scene.StartedAt())).LimitFirstN(2).String()
}
