// Command missiondispatch runs the Mission Dispatch controller: one
// supervisory loop per known robot, a shared MQTT transport, and an
// operator HTTP surface, wired together with graceful shutdown on
// SIGINT/SIGTERM (spec.md §7, grounded on the teacher's cmd/gateway/main.go
// lifecycle).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/amr-saas/missiondispatch/internal/api"
	"github.com/amr-saas/missiondispatch/internal/bridge"
	"github.com/amr-saas/missiondispatch/internal/config"
	"github.com/amr-saas/missiondispatch/internal/controller"
	"github.com/amr-saas/missiondispatch/internal/order"
	"github.com/amr-saas/missiondispatch/internal/reconciler"
	"github.com/amr-saas/missiondispatch/internal/robot"
	"github.com/amr-saas/missiondispatch/internal/store"
	"github.com/amr-saas/missiondispatch/internal/transport"
	"github.com/amr-saas/missiondispatch/internal/vda5050"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && ctx.Err() == nil {
		logger.Error("exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}
	zcfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	return zcfg.Build()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	storeClient := store.NewHTTPClient(cfg.Store.DatabaseURL, logger)

	sup := robot.NewSupervisor(logger)
	if err := reconciler.ResumeAll(ctx, storeClient, sup, logger); err != nil {
		logger.Warn("resume failed, continuing with an empty fleet view", zap.Error(err))
	}

	mqttClient := transport.NewClient(transport.Options{
		Host:          cfg.MQTT.Host,
		Port:          cfg.MQTT.Port,
		WebSockets:    cfg.MQTT.Transport == "websockets",
		WSPath:        cfg.MQTT.WSPath,
		ClientID:      cfg.MQTT.ClientID,
		PresenceTopic: cfg.MQTT.Prefix + cfg.MQTT.InterfaceVersion + "/" + cfg.MQTT.Manufacturer + "/+/connection",
		QueueSize:     cfg.MQTT.QueueSize,
	}, logger)
	if err := mqttClient.Connect(ctx); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	defer mqttClient.Disconnect(context.Background())

	mirror, err := bridge.NewRedisMirror(cfg.Redis.URL, logger)
	if err != nil {
		logger.Warn("redis mirror unavailable, continuing without it", zap.Error(err))
		mirror, _ = bridge.NewRedisMirror("", logger)
	}
	defer mirror.Close() //nolint:errcheck

	flusher := reconciler.NewStatusFlusher(storeClient, logger)
	lock := controller.NewMissionLock(cfg.Robot.ResumeTimeout(), logger)
	cancelCoord := order.NewCancelCoordinator(logger)
	watchdog := robot.NewHeartbeatWatchdog(func(string) time.Duration {
		return cfg.Robot.HeartbeatTimeoutDefault()
	}, logger)

	dispatcher := newRobotDispatcher(sup, watchdog, flusher, mirror, mqttClient, cfg, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { watchdog.Run(gctx); return nil })
	g.Go(func() error { flusher.Run(gctx); return nil })
	watchdog.OnTimeout(func(name string) {
		sup.MarkOffline(name)
		if status, ok := sup.Status(name); ok {
			flusher.Enqueue(name, status)
		}
	})

	mqttClient.OnBackpressureDrop(dispatcher.notifyBackpressure)

	robots, err := storeClient.ListRobots(ctx, store.ListFilter{})
	if err != nil {
		logger.Warn("initial robot list failed", zap.Error(err))
	}
	for _, r := range robots {
		sup.SetBatteryCriticalLevel(r.Name, r.Spec.BatteryCriticalLevel)
		dispatcher.startController(gctx, g, r.Name, storeClient, lock, cancelCoord)
	}
	g.Go(func() error { return dispatcher.watchNewRobots(gctx, g, storeClient, lock, cancelCoord) })
	g.Go(func() error { return dispatcher.subscribeAll(gctx) })

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler: api.NewRouter(sup, mqttClient, logger, 600),
	}
	g.Go(func() error {
		logger.Info("operator http surface listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// robotDispatcher owns the shared MQTT subscriptions that demultiplex
// inbound State/Connection frames by robot serial and fan them into each
// robot's dedicated Controller channel — the "one goroutine per robot"
// model summarized in spec.md §7, with shared wildcard subscriptions (one
// per channel) doing the topic-based demultiplexing rather than one
// subscription per robot.
type robotDispatcher struct {
	sup      *robot.Supervisor
	watchdog *robot.HeartbeatWatchdog
	flusher  *reconciler.StatusFlusher
	mirror   *bridge.RedisMirror
	pub      transport.Publisher
	cfg      *config.Config
	logger   *zap.Logger

	mu           sync.Mutex
	inboxes      map[string]chan *vda5050.State
	backpressure map[string]chan struct{}
}

func newRobotDispatcher(sup *robot.Supervisor, wd *robot.HeartbeatWatchdog, flusher *reconciler.StatusFlusher, mirror *bridge.RedisMirror, pub transport.Publisher, cfg *config.Config, logger *zap.Logger) *robotDispatcher {
	return &robotDispatcher{
		sup: sup, watchdog: wd, flusher: flusher, mirror: mirror, pub: pub, cfg: cfg, logger: logger,
		inboxes:      make(map[string]chan *vda5050.State),
		backpressure: make(map[string]chan struct{}),
	}
}

func (d *robotDispatcher) startController(ctx context.Context, g *errgroup.Group, name string, st store.Client, lock *controller.MissionLock, cancelCoord *order.CancelCoordinator) {
	d.mu.Lock()
	if _, ok := d.inboxes[name]; ok {
		d.mu.Unlock()
		return
	}
	inbox := make(chan *vda5050.State, d.cfg.MQTT.QueueSize)
	backpressure := make(chan struct{}, 1)
	d.inboxes[name] = inbox
	d.backpressure[name] = backpressure
	d.mu.Unlock()

	d.sup.Register(name)

	prefix := d.cfg.MQTT.Prefix + d.cfg.MQTT.InterfaceVersion + "/" + d.cfg.MQTT.Manufacturer + "/" + name
	c := controller.New(controller.Config{
		RobotName:           name,
		Store:               st,
		Publisher:           d.pub,
		Codec:               vda5050.NewCodec(d.cfg.MQTT.InterfaceVersion, d.cfg.MQTT.Manufacturer, name),
		OrderTopic:          prefix + "/order",
		InstantActionsTopic: prefix + "/instantActions",
		Supervisor:          d.sup,
		Lock:                lock,
		Cancel:              cancelCoord,
		HeartbeatTimeout:    func() time.Duration { return d.cfg.Robot.HeartbeatTimeoutDefault() },
		CancelTimeout:       d.cfg.Robot.CancelTimeout(),
		ResumeTimeout:       d.cfg.Robot.ResumeTimeout(),
		Inbound:             inbox,
		Backpressure:        backpressure,
	}, d.logger)

	g.Go(func() error { return c.Run(ctx) })
	d.logger.Info("controller started for robot", zap.String("robot", name))
}

// notifyBackpressure routes a dropped-Order notification from the MQTT
// transport (spec.md §4.2/§7: a queue-overflow drop fails the owning
// robot's current mission with transport_backpressure) to that robot's
// Controller. Non-blocking: the channel buffers at most one signal and
// further drops while it is pending are discarded; a signal still pending
// when the Controller starts its next mission is drained there rather than
// failing that mission.
func (d *robotDispatcher) notifyBackpressure(serial string) {
	d.mu.Lock()
	ch, ok := d.backpressure[serial]
	d.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// watchNewRobots observes Robot ADD events from the store and spins up a
// Controller for each newly-registered robot, so a fleet operator adding
// a robot after startup doesn't require a restart.
func (d *robotDispatcher) watchNewRobots(ctx context.Context, g *errgroup.Group, st store.Client, lock *controller.MissionLock, cancelCoord *order.CancelCoordinator) error {
	events, err := st.Watch(ctx, store.KindRobot)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			if evt.Event != store.EventAdd {
				continue
			}
			if r, ok := evt.Object.(*store.Robot); ok {
				d.sup.SetBatteryCriticalLevel(r.Name, r.Spec.BatteryCriticalLevel)
				d.startController(ctx, g, r.Name, st, lock, cancelCoord)
			}
		}
	}
}

// subscribeAll registers one wildcard MQTT subscription per channel (state,
// connection, factsheet) covering every robot and demultiplexes inbound
// frames by serial: State frames also go to each robot's inbox channel,
// Connection and Factsheet frames only update the Supervisor.
func (d *robotDispatcher) subscribeAll(ctx context.Context) error {
	stateFilter := vda5050.SubscriptionFilter(d.cfg.MQTT.Prefix, d.cfg.MQTT.InterfaceVersion, d.cfg.MQTT.Manufacturer, vda5050.ChannelState)
	connFilter := vda5050.SubscriptionFilter(d.cfg.MQTT.Prefix, d.cfg.MQTT.InterfaceVersion, d.cfg.MQTT.Manufacturer, vda5050.ChannelConnection)
	factsheetFilter := vda5050.SubscriptionFilter(d.cfg.MQTT.Prefix, d.cfg.MQTT.InterfaceVersion, d.cfg.MQTT.Manufacturer, vda5050.ChannelFactsheet)

	handle := func(msg transport.InboundMessage) {
		serial, channel, ok := vda5050.ParseTopic(d.cfg.MQTT.Prefix, msg.Topic)
		if !ok {
			return
		}
		switch channel {
		case vda5050.ChannelState:
			st, err := vda5050.DecodeState(msg.Payload)
			if err != nil {
				d.logger.Warn("failed to decode state frame", zap.String("robot", serial), zap.Error(err))
				return
			}
			d.watchdog.RecordSeen(serial)
			d.sup.ApplyState(serial, st)
			if status, ok := d.sup.Status(serial); ok {
				d.flusher.Enqueue(serial, status)
				d.mirror.MirrorRobotStatus(ctx, serial, status)
			}
			d.mu.Lock()
			inbox, ok := d.inboxes[serial]
			d.mu.Unlock()
			if ok {
				select {
				case inbox <- st:
				default:
					d.logger.Warn("robot inbox full, dropping state frame", zap.String("robot", serial))
				}
			}
		case vda5050.ChannelConnection:
			conn, err := vda5050.DecodeConnection(msg.Payload)
			if err != nil {
				return
			}
			d.watchdog.RecordSeen(serial)
			d.sup.ApplyConnection(serial, conn)
		case vda5050.ChannelFactsheet:
			d.watchdog.RecordSeen(serial)
			d.sup.SetFactsheetHash(serial, vda5050.HashFactsheet(msg.Payload))
		}
	}

	if err := d.pub.Subscribe(ctx, stateFilter, handle); err != nil {
		return err
	}
	if err := d.pub.Subscribe(ctx, connFilter, handle); err != nil {
		return err
	}
	if err := d.pub.Subscribe(ctx, factsheetFilter, handle); err != nil {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}
