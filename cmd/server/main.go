package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/sshcollectorpro/netsession/api/router"
	"github.com/sshcollectorpro/netsession/internal/config"
	"github.com/sshcollectorpro/netsession/internal/database"
	"github.com/sshcollectorpro/netsession/internal/service"
	"github.com/sshcollectorpro/netsession/pkg/logger"
	"github.com/sshcollectorpro/netsession/simulate"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	_ = godotenv.Load()

	configPath := defaultConfigPath
	if p := strings.TrimSpace(os.Getenv("NETSESSION_CONFIG")); p != "" {
		configPath = p
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	config.Set(cfg)

	if err := logger.Init(cfg.Log.LoggerConfig()); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.WithFields(logrus.Fields{"version": "1.0.0", "config": cfg.File()}).Info("Starting NetSession Server")

	if err := database.InitSQLite(cfg.Database.SQLite); err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	dispatcher := service.NewDispatcher(cfg)
	pool := service.NewPool(dispatcher, cfg.Pool)
	defer pool.Close()
	history := service.NewHistory(database.GetDB())
	executor := service.NewExecutor(cfg, pool,
		service.WithStorage(service.NewStorageWriter(cfg.Storage)),
		service.WithHistory(history),
	)
	logger.WithFields(logrus.Fields{
		"platforms":   strings.Join(dispatcher.Platforms(""), ","),
		"concurrency": cfg.Batch.Concurrency,
		"mode":        cfg.Session.Mode,
	}).Info("Session engine ready")

	sim := &simulator{}
	if cfg.Server.SimulateEnable {
		sim.start(cfg.Server.SimulateConfig)
	}
	defer sim.stop()

	r := router.SetupRouter(router.Services{
		Executor:   executor,
		Dispatcher: dispatcher,
		Pool:       pool,
		History:    history,
		DB:         database.GetDB(),

		ConsoleOrigins: cfg.Server.ConsoleOrigins,
	})

	server := &http.Server{
		Addr:           cfg.GetServerAddr(),
		Handler:        r,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logger.WithFields(logrus.Fields{"addr": server.Addr, "mode": cfg.Server.Mode}).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 配置文件热更新：原地覆盖保持指针不变，模拟开关变化时启停模拟器
	if cfg.File() != "" {
		go watchFile(cfg.File(), func() {
			newCfg, err := config.Load(configPath)
			if err != nil {
				logger.WithField("error", err).Warn("Config reload failed")
				return
			}
			*cfg = *newCfg
			_ = logger.Init(cfg.Log.LoggerConfig())
			logger.Info("Config reloaded")
			switch {
			case cfg.Server.SimulateEnable && !sim.running():
				sim.start(cfg.Server.SimulateConfig)
			case !cfg.Server.SimulateEnable && sim.running():
				sim.stop()
				logger.Info("Simulate: stopped by config reload")
			}
		})
	}
	if p := cfg.Server.SimulateConfig; p != "" {
		if _, err := os.Stat(p); err == nil {
			go watchFile(p, func() {
				if cfg.Server.SimulateEnable {
					sim.reload(p)
				}
			})
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.WithField("error", err).Error("Server forced to shutdown")
	} else {
		logger.Info("Server shutdown complete")
	}
}

// watchFile 监听文件变化，300ms 防抖后调用 fn
func watchFile(path string, fn func()) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.WithField("error", err).Warn("File watch init failed")
		return
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		logger.WithFields(logrus.Fields{"path": path, "error": err}).Warn("File watch add failed")
		return
	}
	var debounce *time.Timer
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(300*time.Millisecond, fn)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.WithField("error", err).Warn("File watch error")
		}
	}
}

// simulator 可选的内置设备模拟器
type simulator struct {
	mu  sync.Mutex
	mgr *simulate.Manager
}

func (s *simulator) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mgr != nil
}

func (s *simulator) start(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mgr != nil {
		return
	}
	sc, err := simulate.LoadConfig(path)
	if err != nil {
		logger.WithFields(logrus.Fields{"path": path, "error": err}).Warn("Simulate: failed to load config, skip")
		return
	}
	mgr, err := simulate.Start(sc)
	if err != nil {
		logger.WithField("error", err).Warn("Simulate: failed to start")
		return
	}
	s.mgr = mgr
	addrs := make([]string, 0)
	for ns, addr := range mgr.Namespaces() {
		addrs = append(addrs, ns+"="+addr)
	}
	logger.WithField("namespaces", strings.Join(addrs, ", ")).Info("Simulate: started")
}

func (s *simulator) reload(path string) {
	s.mu.Lock()
	mgr := s.mgr
	s.mu.Unlock()
	if mgr == nil {
		s.start(path)
		return
	}
	sc, err := simulate.LoadConfig(path)
	if err != nil {
		logger.WithField("error", err).Warn("Simulate: reload failed")
		return
	}
	if err := mgr.Reload(sc); err != nil {
		logger.WithField("error", err).Warn("Simulate: hot reload failed")
		return
	}
	logger.Info("Simulate: hot reload success")
}

func (s *simulator) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mgr != nil {
		s.mgr.Stop()
		s.mgr = nil
	}
}
