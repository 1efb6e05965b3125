package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldmesh/fieldcore/internal/alert"
	"github.com/fieldmesh/fieldcore/internal/device"
	"github.com/fieldmesh/fieldcore/internal/infrastructure/mqtt"
)

// Subscriber registers MQTT message handlers.
// Satisfied by the mqtt.Client.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Canceller fails pending commands for a device.
// Satisfied by the command.Dispatcher.
type Canceller interface {
	CancelDevice(deviceID string) int
}

// Service owns the ingest pipeline: MQTT subscriptions, per-device
// queues and the offline sweep loop.
type Service struct {
	sub       Subscriber
	ingestor  *Ingestor
	tracker   *device.Tracker
	canceller Canceller
	queues    *deviceQueues
	logger    Logger

	sweepInterval time.Duration
	cancel        context.CancelFunc
	sweepDone     chan struct{}
}

// ServiceConfig collects the pipeline's collaborators and tuning.
type ServiceConfig struct {
	Subscriber Subscriber
	Ingestor   *Ingestor
	Tracker    *device.Tracker
	Canceller  Canceller
	Logger     Logger

	// QueueSize bounds each per-device queue.
	QueueSize int

	// SweepInterval is how often stale devices are marked offline.
	SweepInterval time.Duration
}

// NewService creates the ingest service.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Service{
		sub:           cfg.Subscriber,
		ingestor:      cfg.Ingestor,
		tracker:       cfg.Tracker,
		canceller:     cfg.Canceller,
		queues:        newDeviceQueues(cfg.QueueSize),
		logger:        logger,
		sweepInterval: cfg.SweepInterval,
	}
}

// subscriptions lists every inbound topic with its QoS. Telemetry and
// status flow at QoS 1; system commands must arrive exactly once.
var subscriptions = []struct {
	topic func(mqtt.Topics) string
	qos   byte
}{
	{func(t mqtt.Topics) string { return t.DeviceData() }, 1},
	{func(t mqtt.Topics) string { return t.DeviceHeartbeat() }, 1},
	{func(t mqtt.Topics) string { return t.DeviceEvents() }, 1},
	{func(t mqtt.Topics) string { return t.DeviceResponse() }, 1},
	{func(t mqtt.Topics) string { return t.GatewayStatus() }, 1},
	{func(mqtt.Topics) string { return mqtt.TopicSystemCommands }, 2},
}

// Start subscribes to all inbound topics and launches the offline sweep.
//
// The pipeline runs until Stop is called or ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	var topics mqtt.Topics
	for _, sub := range subscriptions {
		topic := sub.topic(topics)
		if err := s.sub.Subscribe(topic, sub.qos, s.route); err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
	}

	if s.sweepInterval > 0 {
		sweepCtx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		s.sweepDone = make(chan struct{})
		go func() {
			defer close(s.sweepDone)
			s.tracker.Run(sweepCtx, s.sweepInterval, s.onDeviceOffline)
		}()
	} else {
		s.logger.Info("offline sweep disabled")
	}

	s.logger.Info("ingest pipeline started",
		"subscriptions", len(subscriptions), "sweep_interval", s.sweepInterval)
	return nil
}

// Stop shuts the pipeline down: the sweep loop exits, queues drain, and
// in-flight handlers finish.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.sweepDone
	}
	s.queues.stop()
	s.logger.Info("ingest pipeline stopped")
}

// route is the single MQTT handler: classify, then hand the work to the
// device's queue so per-device ordering holds.
func (s *Service) route(topic string, payload []byte) error {
	route, id, err := ClassifyTopic(topic)
	if err != nil {
		return err
	}

	// System commands have no device identity; serialise them on a
	// reserved queue key.
	queueKey := id
	if route == RouteSystemCommand {
		queueKey = "\x00system"
	}

	ctx := context.Background()
	ok := s.queues.enqueue(queueKey, func() {
		switch route {
		case RouteData:
			s.ingestor.HandleData(ctx, id, payload)
		case RouteHeartbeat:
			s.ingestor.HandleHeartbeat(ctx, id, payload)
		case RouteEvents:
			s.ingestor.HandleEvent(ctx, id, payload)
		case RouteResponse:
			s.ingestor.HandleResponse(ctx, id, payload)
		case RouteGatewayStatus:
			s.ingestor.HandleGatewayStatus(ctx, id, payload)
		case RouteSystemCommand:
			s.ingestor.HandleSystemCommand(ctx, payload)
		}
	})
	if !ok {
		s.logger.Warn("device queue full, message dropped",
			"topic", topic, "route", route.String())
	}
	return nil
}

// onDeviceOffline reacts to a device leaving the freshness window:
// pending commands fail immediately, an alert is recorded, and
// listeners are notified.
func (s *Service) onDeviceOffline(deviceID string) {
	if s.canceller != nil {
		if n := s.canceller.CancelDevice(deviceID); n > 0 {
			s.logger.Info("cancelled pending commands for offline device",
				"device_id", deviceID, "count", n)
		}
	}

	a := alert.Alert{
		DeviceID: deviceID,
		Type:     alert.TypeDeviceOffline,
		Message:  fmt.Sprintf("device %s went offline", deviceID),
		Severity: "medium",
	}
	if err := s.ingestor.alerts.Record(context.Background(), a); err != nil {
		s.logger.Error("recording offline alert failed", "device_id", deviceID, "error", err)
	}

	s.ingestor.broadcast("device.offline", map[string]any{
		"device_id": deviceID,
		"timestamp": time.Now().UTC(),
	})
}
