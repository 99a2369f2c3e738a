package app

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/benbjohnson/clock"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/relabs-tech/space_calibrator/internal/config"
	"github.com/relabs-tech/space_calibrator/internal/offset"
	"github.com/relabs-tech/space_calibrator/internal/tracking"
)

// ParseOffsetTopic splits <prefix>/<id>/<kind>.
func ParseOffsetTopic(prefix, topic string) (tracking.DeviceID, string, error) {
	rest := strings.TrimPrefix(topic, prefix+"/")
	if rest == topic {
		return tracking.NoDevice, "", errors.Errorf("topic %q is not under %q", topic, prefix)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		return tracking.NoDevice, "", errors.Errorf("malformed offset topic %q", topic)
	}
	n, err := strconv.Atoi(parts[0])
	if err != nil {
		return tracking.NoDevice, "", errors.Wrapf(err, "device id in topic %q", topic)
	}
	id := tracking.DeviceID(n)
	if !id.Valid() {
		return tracking.NoDevice, "", errors.Errorf("device id %d out of range", n)
	}
	switch parts[1] {
	case offset.KindRotation, offset.KindTranslation, offset.KindEnabled:
		return id, parts[1], nil
	default:
		return tracking.NoDevice, "", errors.Errorf("unknown offset kind %q", parts[1])
	}
}

// ApplyOffsetMessage decodes an offset message published by the MQTT
// applier and hands it to a.
func ApplyOffsetMessage(a offset.Applier, prefix, topic string, payload []byte) error {
	id, kind, err := ParseOffsetTopic(prefix, topic)
	if err != nil {
		return err
	}
	switch kind {
	case offset.KindRotation:
		var p offset.RotationPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return errors.Wrap(err, "rotation payload")
		}
		return a.SetRotationOffset(id, p.Quaternion())
	case offset.KindTranslation:
		var p offset.TranslationPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return errors.Wrap(err, "translation payload")
		}
		return a.SetTranslationOffset(id, p.Vector())
	default:
		var p offset.EnabledPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return errors.Wrap(err, "enabled payload")
		}
		return a.EnableOffsets(id, p.Enabled)
	}
}

// RunMockTracker publishes mock rig snapshots on the device pose topic and
// plays the driver: offsets published by the calibrator are applied to the
// rig's poses.
func RunMockTracker(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) error {
	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDTracker, logger)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	clk := clock.New()
	rig := tracking.NewMockRig(MockRigConfig(cfg), clk)
	truth := rig.Config()
	logger.Infow("mock rig ground truth",
		"reference_system", truth.ReferenceSystem, "target_system", truth.TargetSystem,
		"rotation", truth.UniverseRotation, "translation_cm", truth.UniverseTranslationCM,
		"reference_id", tracking.MockReference, "target_id", tracking.MockTarget)

	offsetTopic := cfg.TopicOffsetPrefix + "/+/+"
	token := client.Subscribe(offsetTopic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		if err := ApplyOffsetMessage(rig, cfg.TopicOffsetPrefix, msg.Topic(), msg.Payload()); err != nil {
			logger.Warnw("ignoring offset message", "topic", msg.Topic(), "error", err)
		}
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	logger.Infow("subscribed to offsets", "topic", offsetTopic)

	ticker := clk.Ticker(millis(cfg.MockPublishIntervalMs))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			payload, err := json.Marshal(rig.Snapshot())
			if err != nil {
				logger.Warnw("snapshot marshal error", "error", err)
				continue
			}
			client.Publish(cfg.TopicDevicePoses, 0, false, payload)
		}
	}
}
