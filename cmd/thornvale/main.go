package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/thornvale/server/internal/config"
	"github.com/thornvale/server/internal/core/event"
	"github.com/thornvale/server/internal/entity"
	"github.com/thornvale/server/internal/gateway"
	"github.com/thornvale/server/internal/scripting"
	"github.com/thornvale/server/internal/store"
	"github.com/thornvale/server/internal/world"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(serverName string) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m            Thornvale  v0.1.0              \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m     layered world simulation server       \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mserver:\033[0m %s\n\n", serverName)
}

func printSection(title string) {
	lineLen := 46 - len(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := 42 - len(label) - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main server logic ─────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfgPath := "config/server.toml"
	if p := os.Getenv("THORNVALE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Name)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Pick the persistence backend
	printSection("persistence")

	var source store.Source
	if cfg.Database.Enabled {
		dbCtx, dbCancel := context.WithTimeout(ctx, 30*time.Second)
		db, err := store.NewDB(dbCtx, cfg.Database, log)
		dbCancel()
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		printOK("postgres connected")

		if err := store.RunMigrations(ctx, db.Pool); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		printOK("migrations applied")
		source = store.NewPGStore(db, log)
	} else {
		source = store.NewZoneStore(cfg.World.DataDir, log)
		printOK(fmt.Sprintf("zone files from %s", cfg.World.DataDir))
	}
	fmt.Println()

	// 4. Event bus and entity actors
	bus := event.NewBus()

	entReg, err := entity.StartRegistry(ctx, log, entity.RegistryOptions{
		SweepInterval: cfg.World.ReconcileInterval,
	})
	if err != nil {
		return fmt.Errorf("entity registry: %w", err)
	}
	spawner := entity.NewSpawner(ctx, entReg, log, entity.SpawnerOptions{
		MaxRestarts:   cfg.World.MaxRestarts,
		RestartWindow: cfg.World.RestartWindow,
	})
	pump := entity.NewPump(entReg, log)
	event.Subscribe(bus, func(ev event.WorldTick) { pump.Broadcast(ev.Tick) })

	// 5. World manager: layer actors under supervision plus the clocks
	scriptDir := cfg.World.ScriptDir
	mgr, err := world.NewManager(ctx, world.ManagerConfig{
		Source: source,
		NewEngine: func() (*scripting.Engine, error) {
			return scripting.NewEngine(scriptDir, log)
		},
		TickInterval:     cfg.World.TickInterval,
		AutosaveInterval: cfg.World.AutosaveInterval,
		LayerIntervals:   cfg.World.LayerIntervals,
		MaxRestarts:      cfg.World.MaxRestarts,
		RestartWindow:    cfg.World.RestartWindow,
		Bus:              bus,
		Logger:           log,
	})
	if err != nil {
		return fmt.Errorf("world manager: %w", err)
	}

	// 6. Bring up zones
	printSection("world")

	zones := cfg.World.Zones
	if len(zones) == 0 {
		if zones, err = discoverZones(ctx, source); err != nil {
			return fmt.Errorf("discover zones: %w", err)
		}
	}
	layerCount := 0
	for _, zone := range zones {
		started, err := mgr.CreateZone(ctx, zone)
		if err != nil && len(started) == 0 {
			return fmt.Errorf("create zone %s: %w", zone, err)
		}
		if err != nil {
			log.Warn("zone came up incomplete", zap.String("zone", zone), zap.Error(err))
		}
		layerCount += len(started)
	}
	printStat("zones", len(zones))
	printStat("layers", layerCount)

	// 7. Boot entities from the spawn table
	if cfg.World.SpawnFile != "" {
		table, err := store.LoadSpawnTable(cfg.World.SpawnFile)
		if err != nil {
			return fmt.Errorf("spawn table: %w", err)
		}
		printStat("entities", bootSpawns(ctx, spawner, table, log))
	}
	fmt.Println()

	mgr.Start()

	// 8. Gateway
	var gw *gateway.Server
	if cfg.Gateway.Enabled {
		gw = gateway.NewServer(cfg.Gateway, mgr, entReg, spawner, bus, log)
		if err := gw.Start(); err != nil {
			return err
		}
	}

	printSection("server ready")
	if gw != nil {
		printReady(fmt.Sprintf("gateway on %s", cfg.Gateway.BindAddress))
	}
	if cfg.World.TickInterval > 0 {
		printReady(fmt.Sprintf("world clock running (tick: %s)", cfg.World.TickInterval))
	}
	fmt.Println()

	// 9. Wait for shutdown
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-shutdownCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	sctx, scancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer scancel()
	if gw != nil {
		if err := gw.Shutdown(sctx); err != nil {
			log.Warn("gateway shutdown failed", zap.Error(err))
		}
	}
	// Manager.Stop runs the final save sweep before layer actors go down.
	if err := mgr.Stop(sctx); err != nil {
		log.Warn("world shutdown failed", zap.Error(err))
	}
	if err := spawner.Shutdown(sctx); err != nil {
		log.Warn("entity shutdown failed", zap.Error(err))
	}
	if err := entReg.Stop(sctx); err != nil {
		log.Warn("entity registry shutdown failed", zap.Error(err))
	}
	log.Info("server stopped")
	return nil
}

// discoverZones lists every zone the backend knows about.
func discoverZones(ctx context.Context, source store.Source) ([]string, error) {
	switch s := source.(type) {
	case *store.ZoneStore:
		return s.Zones()
	case *store.PGStore:
		return s.Zones(ctx)
	}
	return nil, nil
}

// bootSpawns creates one entity actor per spawn entry. A bad entry is
// logged and skipped so one typo cannot keep the server down.
func bootSpawns(ctx context.Context, spawner *entity.Spawner, table *store.SpawnTable, log *zap.Logger) int {
	count := 0
	for _, e := range table.All() {
		comps := make(map[entity.Kind]entity.Component, len(e.Components))
		for _, c := range e.Components {
			comps[entity.Kind(c.Kind)] = entity.Component{
				Current:   c.Current,
				Max:       c.Max,
				RegenRate: c.RegenRate,
			}
		}
		_, err := spawner.Spawn(ctx, entity.Config{
			ID:   e.ID,
			Type: entity.Type(e.Type),
			Position: entity.Position{
				Zone:   e.Zone,
				Room:   e.Room,
				Coords: &entity.Coords{X: e.X, Y: e.Y},
			},
			Components: comps,
		})
		if err != nil {
			log.Warn("boot spawn failed", zap.String("entity", e.ID), zap.Error(err))
			continue
		}
		count++
	}
	return count
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
