package engine

import (
	"fmt"
	"log"
	"time"

	"fleetcore/allocator"
	"fleetcore/config"
	"fleetcore/forwarder"
	"fleetcore/messaging"
	"fleetcore/monitor"
	"fleetcore/registry"
	"fleetcore/scheduler"
	"fleetcore/statecache"
	"fleetcore/store"
)

type LogFunc func(format string, args ...any)

type Config struct {
	AppConfig  *config.Config
	ConfigPath string
	DB         *store.DB
	Cache      *statecache.Manager
	MsgClient  *messaging.Client
	LogFunc    LogFunc
}

// Engine owns the long-lived fleet services and the background loops. One
// instance is constructed at startup and handed to the web layer; nothing
// here is a global.
type Engine struct {
	cfg        *config.Config
	configPath string
	db         *store.DB
	cache      *statecache.Manager
	msgClient  *messaging.Client
	registry   *registry.Registry
	monitor    *monitor.Monitor
	allocator  *allocator.Allocator
	scheduler  *scheduler.Scheduler
	Events     *EventBus
	logFn      LogFunc
	stopChan   chan struct{}

	msgConnected bool
}

func New(c Config) *Engine {
	logFn := c.LogFunc
	if logFn == nil {
		logFn = log.Printf
	}
	e := &Engine{
		cfg:        c.AppConfig,
		configPath: c.ConfigPath,
		db:         c.DB,
		cache:      c.Cache,
		msgClient:  c.MsgClient,
		Events:     NewEventBus(),
		logFn:      logFn,
		stopChan:   make(chan struct{}),
	}

	e.registry = registry.New(e.db, e.cache)
	e.monitor = monitor.New(
		e.db,
		e.cache,
		&monitorEmitter{bus: e.Events},
		e.cfg.Fleet.HeartbeatInterval.Std(),
		e.cfg.Fleet.HeartbeatTimeout.Std(),
		e.cfg.Fleet.RetryLimit,
	)
	e.allocator = allocator.New(e.db, e.cache, &allocatorEmitter{bus: e.Events})
	e.scheduler = scheduler.New(e.db, e.allocator)
	return e
}

func (e *Engine) Start() {
	e.wireEventHandlers()

	// A reserved row surviving a restart under a dead slave would block
	// reallocation forever; clear those before serving anything.
	if n := e.allocator.RecoverStartup(); n > 0 {
		e.logFn("engine: recovered %d orphaned reservations at startup", n)
	}

	e.monitor.Start()
	go e.reclaimLoop()
	go e.connectionHealthLoop()

	e.checkConnectionStatus()
	e.logFn("engine: started")
}

func (e *Engine) Stop() {
	close(e.stopChan)
	e.monitor.Stop()
	e.logFn("engine: stopped")
}

// Accessors
func (e *Engine) DB() *store.DB                   { return e.db }
func (e *Engine) AppConfig() *config.Config       { return e.cfg }
func (e *Engine) ConfigPath() string              { return e.configPath }
func (e *Engine) Cache() *statecache.Manager      { return e.cache }
func (e *Engine) Registry() *registry.Registry    { return e.registry }
func (e *Engine) Monitor() *monitor.Monitor       { return e.monitor }
func (e *Engine) Allocator() *allocator.Allocator { return e.allocator }
func (e *Engine) Scheduler() *scheduler.Scheduler { return e.scheduler }
func (e *Engine) MsgClient() *messaging.Client    { return e.msgClient }

// ForwarderFor builds a client for the forwarding daemon on a slave.
func (e *Engine) ForwarderFor(s *store.Slave) *forwarder.Client {
	baseURL := fmt.Sprintf("http://%s:%d", s.Address, e.cfg.Forwarder.Port)
	return forwarder.NewClient(baseURL, e.cfg.Forwarder.Timeout.Std())
}

func (e *Engine) reclaimLoop() {
	ticker := time.NewTicker(e.cfg.Fleet.ReclaimInterval.Std())
	defer ticker.Stop()
	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			if n := e.allocator.ReclaimStale(e.cfg.Fleet.IdleTimeout.Std()); n > 0 {
				e.logFn("engine: reclaimed %d idle reservations", n)
			}
			if n, err := e.db.PruneOutbox(time.Now().Add(-24 * time.Hour)); err == nil && n > 0 {
				e.logFn("engine: pruned %d published outbox rows", n)
			}
		}
	}
}

func (e *Engine) checkConnectionStatus() {
	if e.msgClient.IsConnected() {
		if !e.msgConnected {
			e.msgConnected = true
			e.Events.Emit(Event{Type: EventMessagingConnected, Payload: ConnectionEvent{Detail: "messaging connected"}})
		}
	} else {
		if e.msgConnected {
			e.msgConnected = false
			e.Events.Emit(Event{Type: EventMessagingDisconnected, Payload: ConnectionEvent{Detail: "messaging disconnected"}})
		}
	}
}

func (e *Engine) connectionHealthLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			e.checkConnectionStatus()
		}
	}
}

// ReconfigureMessaging reconnects messaging with current config.
func (e *Engine) ReconfigureMessaging() {
	if err := e.msgClient.Reconfigure(&e.cfg.Messaging); err != nil {
		e.logFn("engine: messaging reconfigure error: %v", err)
	} else {
		e.logFn("engine: messaging reconfigured (%s)", e.cfg.Messaging.Backend)
	}
	e.checkConnectionStatus()
}
