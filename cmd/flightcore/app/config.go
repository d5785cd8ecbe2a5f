package app

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config represents the main application configuration. DataDirectory is
// where the counter file, CSV log and flight archive live; every
// persistent component shares it.
type Config struct {
	Settings      Settings          `yaml:"settings"`
	DataDirectory string            `yaml:"dataDirectory"`
	Acquisition   AcquisitionConfig `yaml:"acquisition"`
	Sensors       SensorsConfig     `yaml:"sensors"`
	Mission       MissionConfig     `yaml:"mission"`
	Blackbox      BlackboxConfig    `yaml:"blackbox"`
	Broadcast     BroadcastConfig   `yaml:"broadcast"`
	Servo         ServoConfig       `yaml:"servo"`
	Storage       StorageConfig     `yaml:"storage"`
	Server        ServerConfig      `yaml:"server"`
}

// Settings represents global application settings.
type Settings struct {
	LogLevel  string `yaml:"logLevel"`
	VehicleID string `yaml:"vehicleID"`
}

// AcquisitionConfig controls the main acquisition loop.
type AcquisitionConfig struct {
	TickInterval float64 `yaml:"tickInterval"` // seconds
	Autostart    bool    `yaml:"autostart"`
}

// SensorsConfig controls sensor polling.
type SensorsConfig struct {
	PollInterval      float64          `yaml:"pollInterval"` // seconds
	ReadTimeout       float64          `yaml:"readTimeout"`  // seconds
	DegradedThreshold int              `yaml:"degradedThreshold"`
	Simulation        SimulationConfig `yaml:"simulation"`
}

// SimulationConfig selects the bench-test sensor and actuator simulators
// instead of flight hardware.
type SimulationConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Apogee    float64 `yaml:"apogee"` // m
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	Seed      int64   `yaml:"seed"`
}

// MissionConfig holds phase transition thresholds and alarm bounds.
type MissionConfig struct {
	AscentAltitude      float64 `yaml:"ascentAltitude"`      // m
	DescentRate         float64 `yaml:"descentRate"`         // m/s
	DescentMinAltitude  float64 `yaml:"descentMinAltitude"`  // m
	ReleaseMaxAltitude  float64 `yaml:"releaseMaxAltitude"`  // m
	ReleaseSeparation   float64 `yaml:"releaseSeparation"`   // m
	RecoveryMaxAltitude float64 `yaml:"recoveryMaxAltitude"` // m
	RecoveryRollRate    float64 `yaml:"recoveryRollRate"`    // degrees per tick
	BatteryLowVoltage   float64 `yaml:"batteryLowVoltage"`   // V
	OrientationLimit    float64 `yaml:"orientationLimit"`    // degrees
	DescentRateMin      float64 `yaml:"descentRateMin"`      // m/s
	DescentRateMax      float64 `yaml:"descentRateMax"`      // m/s
	RecoveryAutoStop    float64 `yaml:"recoveryAutoStop"`    // seconds, 0 disables
}

// BlackboxConfig controls the durable CSV log.
type BlackboxConfig struct {
	FileName   string `yaml:"fileName"`
	MaxRecords int    `yaml:"maxRecords"`
	MaxSize    string `yaml:"maxSize"` // e.g. "512 KiB"
}

// BroadcastConfig controls the real-time fan-out.
type BroadcastConfig struct {
	QueueSize int `yaml:"queueSize"`
}

// ServoConfig bounds the actuator command/verify cycle.
type ServoConfig struct {
	ReleaseAngle    float64 `yaml:"releaseAngle"`    // degrees
	NeutralAngle    float64 `yaml:"neutralAngle"`    // degrees
	Tolerance       float64 `yaml:"tolerance"`       // degrees
	PollInterval    float64 `yaml:"pollInterval"`    // seconds
	ConvergeTimeout float64 `yaml:"convergeTimeout"` // seconds
	MaxRetries      int     `yaml:"maxRetries"`
	RetryBackoff    float64 `yaml:"retryBackoff"` // seconds
	SlewRate        float64 `yaml:"slewRate"`     // degrees per poll, simulator only
}

// StorageConfig controls the sqlite flight archive.
type StorageConfig struct {
	Enabled      bool `yaml:"enabled"`
	MaxBatchSize int  `yaml:"maxBatchSize"`
}

// ServerConfig controls the HTTP telemetry/command server.
type ServerConfig struct {
	ListenAddr string `yaml:"listenAddr"`
}

// envOverrides are deployment knobs that override the file, so a bench
// setup can retarget a flight image without editing it.
type envOverrides struct {
	LogLevel      string `env:"FLIGHTCORE_LOG_LEVEL"`
	ListenAddr    string `env:"FLIGHTCORE_LISTEN_ADDR"`
	DataDirectory string `env:"FLIGHTCORE_DATA_DIR"`
}

// LoadConfig reads and validates the configuration file, then applies
// environment overrides.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return nil, fmt.Errorf("parsing environment overrides: %w", err)
	}
	if overrides.LogLevel != "" {
		cfg.Settings.LogLevel = overrides.LogLevel
	}
	if overrides.ListenAddr != "" {
		cfg.Server.ListenAddr = overrides.ListenAddr
	}
	if overrides.DataDirectory != "" {
		cfg.DataDirectory = overrides.DataDirectory
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Settings.LogLevel == "" {
		c.Settings.LogLevel = "info"
	}
	if c.Settings.VehicleID == "" {
		c.Settings.VehicleID = "flightcore"
	}
	if c.DataDirectory == "" {
		c.DataDirectory = "data"
	}
	if c.Acquisition.TickInterval == 0 {
		c.Acquisition.TickInterval = 1.0
	}
	if c.Sensors.PollInterval == 0 {
		c.Sensors.PollInterval = c.Acquisition.TickInterval
	}
	if c.Sensors.ReadTimeout == 0 {
		c.Sensors.ReadTimeout = c.Sensors.PollInterval
	}
	if c.Sensors.DegradedThreshold == 0 {
		c.Sensors.DegradedThreshold = 5
	}
	if c.Mission.AscentAltitude == 0 {
		c.Mission.AscentAltitude = 10
	}
	if c.Mission.DescentRate == 0 {
		c.Mission.DescentRate = -5
	}
	if c.Mission.DescentMinAltitude == 0 {
		c.Mission.DescentMinAltitude = 450
	}
	if c.Mission.ReleaseMaxAltitude == 0 {
		c.Mission.ReleaseMaxAltitude = 450
	}
	if c.Mission.ReleaseSeparation == 0 {
		c.Mission.ReleaseSeparation = 25
	}
	if c.Mission.RecoveryMaxAltitude == 0 {
		c.Mission.RecoveryMaxAltitude = 20
	}
	if c.Mission.RecoveryRollRate == 0 {
		c.Mission.RecoveryRollRate = 0.2
	}
	if c.Mission.BatteryLowVoltage == 0 {
		c.Mission.BatteryLowVoltage = 3.5
	}
	if c.Mission.OrientationLimit == 0 {
		c.Mission.OrientationLimit = 90
	}
	if c.Mission.DescentRateMin == 0 {
		c.Mission.DescentRateMin = -8
	}
	if c.Mission.DescentRateMax == 0 {
		c.Mission.DescentRateMax = -6
	}
	if c.Mission.RecoveryAutoStop == 0 {
		c.Mission.RecoveryAutoStop = 30
	}
	if c.Blackbox.FileName == "" {
		c.Blackbox.FileName = "telemetry.csv"
	}
	if c.Blackbox.MaxRecords == 0 {
		c.Blackbox.MaxRecords = 10000
	}
	if c.Blackbox.MaxSize == "" {
		c.Blackbox.MaxSize = "1 MiB"
	}
	if c.Broadcast.QueueSize == 0 {
		c.Broadcast.QueueSize = 64
	}
	if c.Servo.ReleaseAngle == 0 {
		c.Servo.ReleaseAngle = 90
	}
	if c.Servo.Tolerance == 0 {
		c.Servo.Tolerance = 2.0
	}
	if c.Servo.PollInterval == 0 {
		c.Servo.PollInterval = 0.02
	}
	if c.Servo.ConvergeTimeout == 0 {
		c.Servo.ConvergeTimeout = 2.0
	}
	if c.Servo.RetryBackoff == 0 {
		c.Servo.RetryBackoff = 0.5
	}
	if c.Servo.SlewRate == 0 {
		c.Servo.SlewRate = 15.0
	}
	if c.Storage.MaxBatchSize == 0 {
		c.Storage.MaxBatchSize = 100
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":9003"
	}
}

func (c *Config) validate() error {
	if c.Acquisition.TickInterval <= 0 {
		return fmt.Errorf("acquisition.tickInterval must be positive, got %f", c.Acquisition.TickInterval)
	}
	if _, err := humanize.ParseBytes(c.Blackbox.MaxSize); err != nil {
		return fmt.Errorf("blackbox.maxSize %q: %w", c.Blackbox.MaxSize, err)
	}
	if c.Broadcast.QueueSize <= 0 {
		return fmt.Errorf("broadcast.queueSize must be positive, got %d", c.Broadcast.QueueSize)
	}
	if c.Servo.MaxRetries < 0 {
		return fmt.Errorf("servo.maxRetries must not be negative, got %d", c.Servo.MaxRetries)
	}
	return nil
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
