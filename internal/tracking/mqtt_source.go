package tracking

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// MQTTSource caches the latest snapshot published on a topic. The paho
// callback goroutine writes it; Snapshot hands out copies, so a tick never
// sees a snapshot change under it.
type MQTTSource struct {
	client     mqtt.Client
	topic      string
	staleAfter time.Duration
	clock      clock.Clock
	logger     *zap.SugaredLogger

	mu       sync.RWMutex
	last     Snapshot
	received time.Time
	have     bool
}

// NewMQTTSource creates a source for topic. A staleAfter of zero disables
// staleness detection.
func NewMQTTSource(client mqtt.Client, topic string, staleAfter time.Duration, clk clock.Clock, logger *zap.SugaredLogger) *MQTTSource {
	if clk == nil {
		clk = clock.New()
	}
	return &MQTTSource{
		client:     client,
		topic:      topic,
		staleAfter: staleAfter,
		clock:      clk,
		logger:     logger,
	}
}

// Start subscribes to the snapshot topic.
func (s *MQTTSource) Start() error {
	token := s.client.Subscribe(s.topic, 0, s.handleMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		return errors.Wrapf(err, "subscribe %s", s.topic)
	}
	s.logger.Infow("subscribed to device poses", "topic", s.topic)
	return nil
}

func (s *MQTTSource) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	if err := s.Update(msg.Payload()); err != nil {
		s.logger.Warnw("dropping device snapshot", "topic", msg.Topic(), "error", err)
	}
}

// Update decodes and stores a JSON snapshot payload.
func (s *MQTTSource) Update(payload []byte) error {
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return errors.Wrap(err, "snapshot unmarshal")
	}
	snap = snap.Normalized()

	s.mu.Lock()
	s.last = snap
	s.received = s.clock.Now()
	s.have = true
	s.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the latest snapshot. Once the last update is
// older than staleAfter every pose is reported as not tracking, so a dead
// producer reads as tracking loss instead of a frozen pose.
func (s *MQTTSource) Snapshot() Snapshot {
	s.mu.RLock()
	snap := s.last.Clone()
	received := s.received
	have := s.have
	s.mu.RUnlock()

	if !have {
		return Snapshot{}
	}
	if s.staleAfter > 0 && s.clock.Since(received) > s.staleAfter {
		for i := range snap.Devices {
			snap.Devices[i].PoseValid = false
		}
	}
	return snap
}
