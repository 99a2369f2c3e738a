package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/relabs-tech/space_calibrator/internal/config"
	"github.com/relabs-tech/space_calibrator/internal/offset"
)

// FormatOffsetMessage renders an offset message as one console line.
func FormatOffsetMessage(prefix, topic string, payload []byte) (string, error) {
	id, kind, err := ParseOffsetTopic(prefix, topic)
	if err != nil {
		return "", err
	}
	switch kind {
	case offset.KindRotation:
		var p offset.RotationPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return "", errors.Wrap(err, "rotation payload")
		}
		return fmt.Sprintf("[ROT]   id=%2d  w=%7.4f  x=%7.4f  y=%7.4f  z=%7.4f", id, p.W, p.X, p.Y, p.Z), nil
	case offset.KindTranslation:
		var p offset.TranslationPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return "", errors.Wrap(err, "translation payload")
		}
		return fmt.Sprintf("[TRANS] id=%2d  x=%7.4f  y=%7.4f  z=%7.4f m", id, p.X, p.Y, p.Z), nil
	default:
		var p offset.EnabledPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return "", errors.Wrap(err, "enabled payload")
		}
		return fmt.Sprintf("[EN]    id=%2d  enabled=%t", id, p.Enabled), nil
	}
}

// FormatCalibrationMessage renders a relayed calibration message.
func FormatCalibrationMessage(payload []byte) (string, error) {
	var p MessagePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", errors.Wrap(err, "message payload")
	}
	return fmt.Sprintf("[CALIB] %s  %s", p.Time.Format("15:04:05.000"), p.Message), nil
}

// RunConsoleMQTT prints every offset and calibration message to out until
// ctx is done.
func RunConsoleMQTT(ctx context.Context, cfg *config.Config, out io.Writer, logger *zap.SugaredLogger) error {
	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDConsole, logger)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	subscribe := func(topic string, format func(mqtt.Message) (string, error)) error {
		token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			line, err := format(msg)
			if err != nil {
				logger.Warnw("console: unreadable message", "topic", msg.Topic(), "error", err)
				return
			}
			fmt.Fprintln(out, line)
		})
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
		logger.Infow("console: subscribed", "topic", topic)
		return nil
	}

	if err := subscribe(cfg.TopicOffsetPrefix+"/+/+", func(msg mqtt.Message) (string, error) {
		return FormatOffsetMessage(cfg.TopicOffsetPrefix, msg.Topic(), msg.Payload())
	}); err != nil {
		return err
	}
	if cfg.TopicMessages != "" {
		if err := subscribe(cfg.TopicMessages, func(msg mqtt.Message) (string, error) {
			return FormatCalibrationMessage(msg.Payload())
		}); err != nil {
			return err
		}
	}

	<-ctx.Done()
	logger.Info("console: shutting down")
	return nil
}
