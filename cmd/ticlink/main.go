// ticlink runs one participant of a tic-lockstep netgame: a listen or
// dedicated server, or a client joining one. Around the game loop it
// offers a console, a REST API, MQTT telemetry and a persistent ban and
// incident store.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ticlink-project/ticlink/internal/api"
	"github.com/ticlink-project/ticlink/internal/cli"
	"github.com/ticlink-project/ticlink/internal/config"
	"github.com/ticlink-project/ticlink/internal/db"
	"github.com/ticlink-project/ticlink/internal/events"
	"github.com/ticlink-project/ticlink/internal/health"
	"github.com/ticlink-project/ticlink/internal/netgame"
	"github.com/ticlink-project/ticlink/internal/network"
	"github.com/ticlink-project/ticlink/internal/protocol"
	"github.com/ticlink-project/ticlink/internal/scheduler"
	"github.com/ticlink-project/ticlink/internal/session"
	"github.com/ticlink-project/ticlink/internal/sim"
	"github.com/ticlink-project/ticlink/internal/telemetry"
	"github.com/ticlink-project/ticlink/internal/util"
)

const (
	AppName    = "ticlink"
	AppVersion = api.Version
)

func main() {
	configDir := flag.String("config", config.DefaultConfigDir, "configuration directory")
	setup := flag.Bool("setup", false, "run the setup wizard")
	connect := flag.String("connect", "", "join the server at host:port instead of hosting")
	noConsole := flag.Bool("no-console", false, "disable the interactive console")
	flag.Parse()

	fmt.Printf("%s v%s\n\n", AppName, AppVersion)

	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting ticlink")

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *setup || cfg.IsFirstRun() {
		if err := config.RunSetupWizard(cfg, os.Stdin, os.Stdout); err != nil {
			log.Fatal().Err(err).Msg("setup wizard failed")
		}
	}

	app := cfg.GetApplicationData()
	if err := util.InitLogger(util.LogConfig{
		Level:      app.Logging.Level,
		Directory:  app.Logging.Directory,
		MaxBackups: app.Logging.MaxBackups,
		Console:    true,
	}); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Msg("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := events.NewEventBus()
	nd := cfg.GetNetData()
	isServer := *connect == ""

	// Bans and incidents persist in sqlite; without it the server still
	// runs with an in-memory ban list.
	var bans session.BanStore = session.NewMemoryBans()
	store, err := db.NewStore(app.Database.Path)
	if err != nil {
		log.Warn().Err(err).Msg("incident store unavailable, bans will not persist")
	} else {
		bans = store
		db.NewRecorder(store, eventBus)
	}

	port := nd.Port
	if !isServer {
		port = 0
	}
	transport, err := network.ListenUDP(ctx, network.UDPConfig{
		Port:             port,
		MaxPacketsPerSec: nd.MaxPacketsPerSec,
	})
	if err != nil {
		log.Fatal().Err(err).Int("port", port).Msg("failed to open game socket")
	}
	if ip, err := util.GetLocalIP(); err == nil {
		log.Info().Str("ip", ip).Str("bind", transport.LocalAddr().String()).Msg("game socket open")
	}

	gameType, _ := sim.ParseGameType(nd.GameType)
	world := sim.NewReference(gameType, nd.Map, uint32(time.Now().UnixNano()))
	ncfg := netgame.Config{
		Session:        nd.Session(),
		PacketLength:   nd.MaxPacketLength,
		MaxCatchUp:     nd.MaxCatchUpTics,
		ResyncAttempts: nd.ResyncAttempts,
		SavegameRate:   nd.SavegameRate,
		PlayerNames:    nd.PlayerNames(),
		Seed:           time.Now().UnixNano(),
	}

	var host *netgame.Host
	if isServer {
		host = netgame.NewServer(ncfg, transport, world, bans, eventBus)
		log.Info().Int("port", nd.Port).Str("map", nd.Map).Str("game_type", nd.GameType).Bool("dedicated", nd.Dedicated).Msg("hosting netgame")
	} else {
		host = netgame.NewClient(ncfg, transport, world, eventBus)
		if err := host.Connect(*connect); err != nil {
			log.Fatal().Err(err).Str("server", *connect).Msg("failed to connect")
		}
	}

	lagMon := netgame.NewLagMonitor(eventBus, uint32(app.LagMonitor.WarnPingMs))

	// Settings edited over the API or console apply to the running session.
	eventBus.Subscribe(events.EventConfigChanged, "main", func(_ context.Context, _ events.Event) error {
		if !host.Server() {
			return nil
		}
		sc := cfg.GetNetData().Session()
		host.Post(func(h *netgame.Host) { h.Session().SetConfig(sc) })
		return nil
	})

	quitCh := make(chan string, 1)
	eventBus.Subscribe(events.EventShutdown, "main", func(_ context.Context, ev events.Event) error {
		reason := ev.Source
		if m, ok := ev.Payload.(map[string]string); ok && m["reason"] != "" {
			reason = m["reason"]
		}
		select {
		case quitCh <- reason:
		default:
		}
		return nil
	})
	eventBus.Subscribe(events.EventConnState, "main", func(_ context.Context, ev events.Event) error {
		if p, ok := ev.Payload.(events.ConnStatePayload); ok && p.To == netgame.StateAborted.String() {
			select {
			case quitCh <- p.Reason:
			default:
			}
		}
		return nil
	})

	clock := scheduler.NewClock(protocol.TicRate, time.Now(), func(realtics int) {
		host.Frame(realtics)
	})

	var cleaner scheduler.IncidentCleaner
	if store != nil {
		cleaner = store
	}
	sched := scheduler.NewScheduler(cfg, cleaner, func() scheduler.Stats {
		snap := host.Status().Snapshot()
		resyncing := 0
		for _, n := range snap.Nodes {
			if n.Resync != "synced" {
				resyncing++
			}
		}
		return scheduler.Stats{Players: len(snap.Players), Nodes: len(snap.Nodes), GameTic: snap.GameTic, Resyncing: resyncing}
	})

	healthMgr := health.NewManager(app.Health, filepath.Dir(app.Database.Path), eventBus, host.Status().Snapshot)

	var mqttHandler *telemetry.MQTTHandler
	if app.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(app.MQTT, nd.ServerName, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	var wg sync.WaitGroup
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()

	// The game loop outlives ctx so shutdown packets still go out.
	wg.Add(1)
	go func() {
		defer wg.Done()
		clock.Run(loopCtx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		interval := time.Duration(app.LagMonitor.IntervalSec) * time.Second
		if interval <= 0 {
			interval = time.Minute
		}
		lagMon.Start(ctx, interval)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		healthMgr.Start(ctx)
	}()

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	if app.API.Enabled {
		deps := api.Deps{Bans: bans, Lag: lagMon}
		if store != nil {
			deps.Incidents = store
		}
		apiServer := api.NewServer(cfg, eventBus, host, deps)
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", app.API.Port).Msg("starting REST API server")
			if err := startWithRetry(ctx, "API server", apiServer.Start, 5); err != nil {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
		}()
	}

	if !*noConsole {
		console := cli.NewCLI(cfg, eventBus, host, lagMon, os.Stdin, os.Stdout)
		// The console blocks on stdin, so it is not waited for.
		go console.Start(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	reason := "signal"
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case reason = <-quitCh:
		log.Info().Str("reason", reason).Msg("game ended")
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := host.Do(stopCtx, func(h *netgame.Host) error { return h.Stop(reason) }); err != nil {
		log.Warn().Err(err).Msg("host did not stop cleanly")
	}
	stopCancel()
	stopLoop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	eventBus.Stop()
	if store != nil {
		store.Close()
	}
	log.Info().Msg("ticlink stopped")
}

// startWithRetry retries a listener that may find its port still bound
// by a previous run.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			time.Sleep(3 * time.Second)
		}
	}
	return lastErr
}
