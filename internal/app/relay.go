package app

import (
	"encoding/json"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/relabs-tech/space_calibrator/internal/offset"
)

// MessagePayload is published on the messages topic for every calibration
// message.
type MessagePayload struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// MessageRelay forwards calibration messages to MQTT. Publishing does not
// wait for the broker, so it is safe to call from the loop goroutine.
type MessageRelay struct {
	pub    offset.Publisher
	topic  string
	clock  clock.Clock
	logger *zap.SugaredLogger
}

// NewMessageRelay creates a relay publishing on topic.
func NewMessageRelay(pub offset.Publisher, topic string, clk clock.Clock, logger *zap.SugaredLogger) *MessageRelay {
	if clk == nil {
		clk = clock.New()
	}
	return &MessageRelay{pub: pub, topic: topic, clock: clk, logger: logger}
}

// Publish sends msg. It matches the MessageLog listener signature.
func (r *MessageRelay) Publish(msg string) {
	payload, err := json.Marshal(MessagePayload{Time: r.clock.Now().UTC(), Message: msg})
	if err != nil {
		r.logger.Warnw("marshal message", "error", err)
		return
	}
	r.pub.Publish(r.topic, 0, false, payload)
}
