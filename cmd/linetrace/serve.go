package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/linetrace/simulator/internal/cache"
	"github.com/linetrace/simulator/internal/config"
	"github.com/linetrace/simulator/internal/course"
	"github.com/linetrace/simulator/internal/dispatcher"
	"github.com/linetrace/simulator/internal/handlers"
	"github.com/linetrace/simulator/internal/influx"
	"github.com/linetrace/simulator/internal/logging"
	"github.com/linetrace/simulator/internal/monitor"
	"github.com/linetrace/simulator/internal/parser"
	"github.com/linetrace/simulator/internal/physics"
	"github.com/linetrace/simulator/internal/script"
	"github.com/linetrace/simulator/internal/session"
	"github.com/linetrace/simulator/internal/sim"
	"github.com/linetrace/simulator/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func loadScript(path string) (*script.Script, error) {
	if path == "" {
		return script.Default(), nil
	}
	return script.Load(path)
}

// compileScript loads and compiles the configured script. A broken script
// is logged and the world starts with an empty course and no vehicles.
func compileScript(path string) (*script.Script, *script.Plan) {
	s, err := loadScript(path)
	if err == nil {
		var plan *script.Plan
		if plan, err = script.Compile(s); err == nil {
			return s, plan
		}
	}
	Logger.Error("Script failed, starting with an empty course", "path", path, "error", err)
	return &script.Script{}, &script.Plan{}
}

// serve builds the world and every service around it, runs until ctx is
// cancelled and then ends the run.
func serve(ctx context.Context, sess *session.Context) error {
	simCfg := config.GetSimConfig()
	serverCfg := config.GetServerConfig()
	storageCfg := config.GetStorageConfig()
	logCfg := config.GetLogConfig()

	wcfg, err := worldConfig(simCfg, config.GetSensorConfig(), config.GetControlConfig())
	if err != nil {
		return err
	}
	engine, err := physics.NewModel(physicsConfig(config.GetPhysicsConfig()))
	if err != nil {
		return fmt.Errorf("invalid physics settings: %w", err)
	}

	s, plan := compileScript(simCfg.ScriptPath)
	scriptJSON, err := json.Marshal(s)
	if err != nil {
		return err
	}
	Logger.Info("Script compiled", "path", simCfg.ScriptPath, "points", len(plan.Points), "spawns", len(plan.Spawns))

	// storage
	backend, err := createStorageBackend(storageCfg, SessionStartTime)
	if err != nil {
		return err
	}
	if err := backend.Init(); err != nil {
		return fmt.Errorf("failed to initialize storage backend: %w", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			Logger.Error("Error closing storage backend", "error", err)
		}
	}()

	// time series
	var inf *influx.Manager
	if ic := config.GetInfluxConfig(); ic.Enabled {
		inf = influx.NewManager(ic, ZLogger.With().Str("component", "influx").Logger(),
			filepath.Join(logCfg.Dir, "influx_backup.lp.gz"))
		if err := inf.Connect(ctx); err != nil {
			Logger.Error("Failed to connect to InfluxDB", "error", err)
			inf = nil
		} else {
			defer func() {
				if err := inf.Close(); err != nil {
					Logger.Error("Error closing InfluxDB", "error", err)
				}
			}()
		}
	}

	agents := cache.NewAgentCache(cache.DefaultSize, cache.DefaultTTL)
	p := parser.NewParser(Logger)

	workerDeps := worker.Dependencies{
		Session:     sess,
		Cache:       agents,
		Parser:      p,
		Logger:      Logger,
		RecordEvery: storageCfg.RecordEvery,
	}
	if inf != nil {
		workerDeps.Influx = inf
	}
	workerManager := worker.NewManager(workerDeps, backend)

	d, err := dispatcher.New(logging.NewDispatcherLogger(ZLogger.With().Str("component", "dispatcher").Logger()))
	if err != nil {
		return err
	}

	handlerService := handlers.NewService(handlers.Dependencies{
		Dispatcher:       d,
		Session:          sess,
		Cache:            agents,
		Parser:           p,
		Logger:           Logger,
		SnapshotInterval: serverCfg.SnapshotInterval,
	})
	hub := handlerService.Hub()

	world, err := sim.New(wcfg, engine,
		sim.WithLogger(Logger),
		sim.WithCourse(course.New(plan.Points...)),
		sim.WithObserver(workerManager),
		sim.WithObserver(hub),
	)
	if err != nil {
		return err
	}
	handlerService.SetWorld(world)
	workerManager.SetWorld(world)
	workerManager.RegisterHandlers(d)

	run := worker.NewRun(sess.Room(), wcfg.TickRate, world.Course(), scriptJSON,
		config.GetString("defaultTag"), Version, SessionStartTime)
	if err := workerManager.StartRun(run); err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	for _, spec := range plan.Spawns {
		if err := world.Spawn(spec); err != nil {
			Logger.Error("Scripted spawn failed", "nickname", spec.Nickname, "error", err)
		}
	}

	monitorDeps := monitor.Dependencies{
		World:     world,
		Session:   sess,
		Storage:   backend,
		Queues:    workerManager,
		StatusDir: logCfg.Dir,
		Logger:    Logger,
	}
	if inf != nil {
		monitorDeps.Influx = inf
	}
	monitorService := monitor.NewService(monitorDeps)
	if err := monitorService.Start(); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              serverCfg.Listen,
		Handler:           handlerService.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		Logger.Info("Simulation running", "tickRate", wcfg.TickRate)
		return world.Run(gctx)
	})
	g.Go(func() error {
		Logger.Info("Listening", "addr", serverCfg.Listen, "room", sess.Room())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		hub.Close()
		return srv.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()
	Logger.Info("Shutting down...", "error", runErr)

	monitorService.Stop()
	d.Close()
	world.Close()

	if err := workerManager.EndRun(world.Stats()); err != nil {
		Logger.Error("Failed to end run", "error", err)
	}
	if err := uploadExport(backend, config.GetAPIConfig()); err != nil {
		Logger.Error("Failed to upload run export", "error", err)
	}
	return runErr
}
