package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/relabs-tech/space_calibrator/internal/orientation"
)

// Profile store kinds.
const (
	StoreJSON   = "json"
	StoreSQLite = "sqlite"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker             string
	MQTTClientIDCalibrator string
	MQTTClientIDTracker    string
	MQTTClientIDConsole    string

	// Topics
	TopicDevicePoses  string
	TopicOffsetPrefix string
	TopicMessages     string

	// Devices
	ReferenceDeviceID    int // -1 = not selected
	TargetDeviceID       int // -1 = not selected
	TargetTrackingSystem string

	// Profile persistence
	ProfileStore string // "json" or "sqlite"
	ProfilePath  string

	// Calibration
	SampleCount      int
	MinDeltaAngleRad float64
	MinAxisNorm      float64
	RankTolerance    float64

	// Timing
	TickIntervalMs       int // minimum spacing between calibration ticks
	RescanIntervalMs     int // profile re-apply period while idle
	IdleUpdateIntervalMs int // driving loop period while idle
	PoseStaleAfterMs     int // 0 disables staleness detection

	// Web Server
	WebServerPort int // 0 disables the control server

	// Logging
	LogLevel string

	// Mock tracker
	MockPublishIntervalMs int
	MockReferenceSystem   string
	MockTargetSystem      string
	MockOffsetRotation    orientation.EulerAngles
	MockOffsetCM          r3.Vector
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: unexported so other packages cannot modify it directly.
//   - configOnce: ensures InitGlobal() only runs once, even if called multiple times.
//   - configMu: RWMutex protects concurrent access; Get() takes the read lock.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns a Config with every optional value filled in.
func Default() *Config {
	return &Config{
		MQTTBroker:             "tcp://localhost:1883",
		MQTTClientIDCalibrator: "space-calibrator",
		MQTTClientIDTracker:    "space-calibrator-mock-tracker",
		MQTTClientIDConsole:    "space-calibrator-console",

		TopicDevicePoses:  "tracking/devices",
		TopicOffsetPrefix: "calibrator/offsets",
		TopicMessages:     "calibrator/messages",

		ReferenceDeviceID: -1,
		TargetDeviceID:    -1,

		ProfileStore: StoreJSON,
		ProfilePath:  "calibration/profile.json",

		SampleCount:      100,
		MinDeltaAngleRad: 0.4,
		MinAxisNorm:      0.01,
		RankTolerance:    1e-10,

		TickIntervalMs:       50,
		RescanIntervalMs:     2500,
		IdleUpdateIntervalMs: 1000,
		PoseStaleAfterMs:     500,

		WebServerPort: 8080,
		LogLevel:      "info",

		MockPublishIntervalMs: 20,
		MockReferenceSystem:   "lighthouse",
		MockTargetSystem:      "oculus",
		MockOffsetRotation:    orientation.EulerAngles{Yaw: 30},
		MockOffsetCM:          r3.Vector{X: 40, Y: -5, Z: 120},
	}
}

// Load reads the configuration file and returns a Config struct. Keys not
// present in the file keep their defaults.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open config file")
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, errors.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, errors.Wrapf(err, "config line %d", lineNum)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "error reading config file")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseInt(key, value string, min, max int) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s %q", key, value)
	}
	if v < min || v > max {
		return 0, errors.Errorf("%s must be %d-%d, got %d", key, min, max, v)
	}
	return v, nil
}

func parseFloat(key, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s %q", key, value)
	}
	return v, nil
}

const maxInt = int(^uint(0) >> 1)

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_CALIBRATOR":
		c.MQTTClientIDCalibrator = value
	case "MQTT_CLIENT_ID_TRACKER":
		c.MQTTClientIDTracker = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value

	// Topics
	case "TOPIC_DEVICE_POSES":
		c.TopicDevicePoses = value
	case "TOPIC_OFFSET_PREFIX":
		c.TopicOffsetPrefix = strings.TrimSuffix(value, "/")
	case "TOPIC_MESSAGES":
		c.TopicMessages = value

	// Devices
	case "REFERENCE_DEVICE_ID":
		c.ReferenceDeviceID, err = parseInt(key, value, -1, 63)
	case "TARGET_DEVICE_ID":
		c.TargetDeviceID, err = parseInt(key, value, -1, 63)
	case "TARGET_TRACKING_SYSTEM":
		c.TargetTrackingSystem = value

	// Profile persistence
	case "PROFILE_STORE":
		if value != StoreJSON && value != StoreSQLite {
			return errors.Errorf("PROFILE_STORE must be %q or %q, got %q", StoreJSON, StoreSQLite, value)
		}
		c.ProfileStore = value
	case "PROFILE_PATH":
		c.ProfilePath = value

	// Calibration
	case "SAMPLE_COUNT":
		c.SampleCount, err = parseInt(key, value, 2, 10000)
	case "MIN_DELTA_ANGLE_RAD":
		c.MinDeltaAngleRad, err = parseFloat(key, value)
	case "MIN_AXIS_NORM":
		c.MinAxisNorm, err = parseFloat(key, value)
	case "RANK_TOLERANCE":
		c.RankTolerance, err = parseFloat(key, value)

	// Timing
	case "TICK_INTERVAL_MS":
		c.TickIntervalMs, err = parseInt(key, value, 1, 60000)
	case "RESCAN_INTERVAL_MS":
		c.RescanIntervalMs, err = parseInt(key, value, 0, maxInt)
	case "IDLE_UPDATE_INTERVAL_MS":
		c.IdleUpdateIntervalMs, err = parseInt(key, value, 1, maxInt)
	case "POSE_STALE_AFTER_MS":
		c.PoseStaleAfterMs, err = parseInt(key, value, 0, maxInt)

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parseInt(key, value, 0, 65535)

	// Logging
	case "LOG_LEVEL":
		c.LogLevel = value

	// Mock tracker
	case "MOCK_PUBLISH_INTERVAL_MS":
		c.MockPublishIntervalMs, err = parseInt(key, value, 1, 60000)
	case "MOCK_REFERENCE_SYSTEM":
		c.MockReferenceSystem = value
	case "MOCK_TARGET_SYSTEM":
		c.MockTargetSystem = value
	case "MOCK_OFFSET_ROLL_DEG":
		c.MockOffsetRotation.Roll, err = parseFloat(key, value)
	case "MOCK_OFFSET_YAW_DEG":
		c.MockOffsetRotation.Yaw, err = parseFloat(key, value)
	case "MOCK_OFFSET_PITCH_DEG":
		c.MockOffsetRotation.Pitch, err = parseFloat(key, value)
	case "MOCK_OFFSET_X_CM":
		c.MockOffsetCM.X, err = parseFloat(key, value)
	case "MOCK_OFFSET_Y_CM":
		c.MockOffsetCM.Y, err = parseFloat(key, value)
	case "MOCK_OFFSET_Z_CM":
		c.MockOffsetCM.Z, err = parseFloat(key, value)

	default:
		return errors.Errorf("unknown config key: %q", key)
	}

	return err
}

// Validate checks that all required fields are set and consistent.
func (c *Config) Validate() error {
	if c.MQTTBroker == "" {
		return errors.New("MQTT_BROKER is required")
	}
	if c.TopicDevicePoses == "" {
		return errors.New("TOPIC_DEVICE_POSES is required")
	}
	if c.TopicOffsetPrefix == "" {
		return errors.New("TOPIC_OFFSET_PREFIX is required")
	}
	if c.ProfilePath == "" {
		return errors.New("PROFILE_PATH is required")
	}
	if c.MinDeltaAngleRad <= 0 {
		return errors.Errorf("MIN_DELTA_ANGLE_RAD must be positive, got %g", c.MinDeltaAngleRad)
	}
	if c.MinAxisNorm <= 0 {
		return errors.Errorf("MIN_AXIS_NORM must be positive, got %g", c.MinAxisNorm)
	}
	if c.RankTolerance <= 0 || c.RankTolerance >= 1 {
		return errors.Errorf("RANK_TOLERANCE must be in (0, 1), got %g", c.RankTolerance)
	}
	if c.ReferenceDeviceID >= 0 && c.ReferenceDeviceID == c.TargetDeviceID {
		return errors.New("REFERENCE_DEVICE_ID and TARGET_DEVICE_ID must differ")
	}
	return nil
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
