package app

import (
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/relabs-tech/space_calibrator/internal/calibration"
	"github.com/relabs-tech/space_calibrator/internal/config"
	"github.com/relabs-tech/space_calibrator/internal/offset"
	"github.com/relabs-tech/space_calibrator/internal/profile"
	"github.com/relabs-tech/space_calibrator/internal/tracking"
)

func millis(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// connectMQTT connects to broker and blocks until the connection is up.
func connectMQTT(broker, clientID string, logger *zap.SugaredLogger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warnw("MQTT connection lost", "error", err)
		})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, errors.Wrapf(token.Error(), "connect to MQTT broker %s", broker)
	}
	logger.Infow("connected to MQTT broker", "broker", broker, "client_id", clientID)
	return client, nil
}

// OpenStore opens the profile store selected by PROFILE_STORE. The returned
// close function is never nil.
func OpenStore(cfg *config.Config) (profile.Store, func() error, error) {
	switch cfg.ProfileStore {
	case config.StoreSQLite:
		s, err := profile.OpenSQLiteStore(cfg.ProfilePath)
		if err != nil {
			return nil, func() error { return nil }, err
		}
		return s, s.Close, nil
	case config.StoreJSON, "":
		return profile.NewJSONStore(cfg.ProfilePath), func() error { return nil }, nil
	default:
		return nil, func() error { return nil }, errors.Errorf("unknown profile store %q", cfg.ProfileStore)
	}
}

// CalibratorOptions maps the configuration onto calibrator options.
func CalibratorOptions(cfg *config.Config, src tracking.Source, applier offset.Applier, store profile.Store,
	msgs calibration.MessageSink, logger *zap.SugaredLogger,
) calibration.Options {
	return calibration.Options{
		Source:   src,
		Applier:  applier,
		Store:    store,
		Messages: msgs,
		Logger:   logger,
		Tolerances: calibration.Tolerances{
			MinDeltaAngle: cfg.MinDeltaAngleRad,
			MinAxisNorm:   cfg.MinAxisNorm,
			RankTolerance: cfg.RankTolerance,
		},
		SampleCount:          cfg.SampleCount,
		MinTickInterval:      millis(cfg.TickIntervalMs),
		RescanInterval:       millis(cfg.RescanIntervalMs),
		IdleUpdateInterval:   millis(cfg.IdleUpdateIntervalMs),
		TargetTrackingSystem: cfg.TargetTrackingSystem,
	}
}

// MockRigConfig builds the mock rig's ground truth from the configuration.
func MockRigConfig(cfg *config.Config) tracking.MockRigConfig {
	rig := tracking.DefaultMockRigConfig()
	rig.ReferenceSystem = cfg.MockReferenceSystem
	rig.TargetSystem = cfg.MockTargetSystem
	rig.UniverseRotation = cfg.MockOffsetRotation
	rig.UniverseTranslationCM = cfg.MockOffsetCM
	return rig
}
