package offset

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"github.com/relabs-tech/space_calibrator/internal/tracking"
)

// publishTimeout bounds how long a tick may wait on the broker.
const publishTimeout = 500 * time.Millisecond

// Publisher is the part of mqtt.Client the applier needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// RotationPayload is published on <prefix>/<id>/rotation.
type RotationPayload struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// TranslationPayload is published on <prefix>/<id>/translation, in meters.
type TranslationPayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// EnabledPayload is published on <prefix>/<id>/enabled.
type EnabledPayload struct {
	Enabled bool `json:"enabled"`
}

// Topic kinds under the offset prefix.
const (
	KindRotation    = "rotation"
	KindTranslation = "translation"
	KindEnabled     = "enabled"
)

// MQTTApplier publishes offsets as retained messages, so a driver that
// reconnects picks up the current offsets right away.
type MQTTApplier struct {
	pub    Publisher
	prefix string
}

// NewMQTTApplier creates an applier publishing under prefix.
func NewMQTTApplier(pub Publisher, prefix string) *MQTTApplier {
	return &MQTTApplier{pub: pub, prefix: prefix}
}

// Topic returns the topic for one kind of offset on one device.
func Topic(prefix string, id tracking.DeviceID, kind string) string {
	return fmt.Sprintf("%s/%d/%s", prefix, id, kind)
}

func (a *MQTTApplier) publish(id tracking.DeviceID, kind string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "marshal %s offset", kind)
	}
	topic := Topic(a.prefix, id, kind)
	token := a.pub.Publish(topic, 1, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		return errors.Errorf("publish %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return errors.Wrapf(err, "publish %s", topic)
	}
	return nil
}

// SetRotationOffset implements Applier.
func (a *MQTTApplier) SetRotationOffset(id tracking.DeviceID, q quat.Number) error {
	return a.publish(id, KindRotation, RotationPayload{W: q.Real, X: q.Imag, Y: q.Jmag, Z: q.Kmag})
}

// SetTranslationOffset implements Applier.
func (a *MQTTApplier) SetTranslationOffset(id tracking.DeviceID, meters r3.Vector) error {
	return a.publish(id, KindTranslation, TranslationPayload{X: meters.X, Y: meters.Y, Z: meters.Z})
}

// EnableOffsets implements Applier.
func (a *MQTTApplier) EnableOffsets(id tracking.DeviceID, enable bool) error {
	return a.publish(id, KindEnabled, EnabledPayload{Enabled: enable})
}

// Quaternion converts the payload back.
func (p RotationPayload) Quaternion() quat.Number {
	return quat.Number{Real: p.W, Imag: p.X, Jmag: p.Y, Kmag: p.Z}
}

// Vector converts the payload back.
func (p TranslationPayload) Vector() r3.Vector {
	return r3.Vector{X: p.X, Y: p.Y, Z: p.Z}
}
