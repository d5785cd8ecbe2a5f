package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/model-satellite/flightcore/internal/blackbox"
	"github.com/model-satellite/flightcore/internal/broadcast"
	"github.com/model-satellite/flightcore/internal/command"
	"github.com/model-satellite/flightcore/internal/mission"
	"github.com/model-satellite/flightcore/internal/sensor"
	sensorsim "github.com/model-satellite/flightcore/internal/sensor/sim"
	"github.com/model-satellite/flightcore/internal/sequence"
	"github.com/model-satellite/flightcore/internal/server"
	"github.com/model-satellite/flightcore/internal/servo"
	servosim "github.com/model-satellite/flightcore/internal/servo/sim"
	"github.com/model-satellite/flightcore/internal/storage"
	"github.com/model-satellite/flightcore/internal/telemetry"
)

const counterFileName = "packet_count"

// Run wires the pipeline together and drives it until ctx is cancelled
// or a fatal fault (counter persistence) stops it.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	if err := os.MkdirAll(config.DataDirectory, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	sequencer, err := sequence.Open(filepath.Join(config.DataDirectory, counterFileName))
	if err != nil {
		return fmt.Errorf("opening packet sequencer: %w", err)
	}
	resumed := sequencer.Resumed()
	if resumed {
		logger.Info("resuming flight after restart",
			slog.Uint64("nextPacket", uint64(sequencer.Next())),
			slog.String("phase", sequencer.Phase().String()))
	}

	recorder, err := createRecorder(config, resumed, logger)
	if err != nil {
		return fmt.Errorf("creating blackbox recorder: %w", err)
	}

	actuator, err := createActuator(config)
	if err != nil {
		return err
	}

	// The coordinator's alarm sink closes over the machine, which is
	// constructed right after with the coordinator's transition hook.
	var machine *mission.Machine
	coordinator := servo.NewCoordinator(actuator, servoConfig(&config.Servo),
		func(a telemetry.Alarm) { machine.Raise(a) },
		servo.WithLogger(logger))
	machine = mission.NewMachine(missionConfig(&config.Mission),
		mission.WithLogger(logger),
		mission.WithTransitionFunc(coordinator.HandleTransition))
	if resumed {
		machine.Restore(sequencer.Phase())
		machine.Raise(sequencer.Alarms())
	}

	probes, err := createProbes(config)
	if err != nil {
		return fmt.Errorf("creating sensor probes: %w", err)
	}
	aggregator := sensor.NewAggregator(probes, sensor.WithLogger(logger))

	hub := broadcast.NewHub(
		broadcast.WithQueueSize(config.Broadcast.QueueSize),
		broadcast.WithLogger(logger))

	store, sessionID, err := createArchive(ctx, config)
	if err != nil {
		return fmt.Errorf("creating flight archive: %w", err)
	}
	if store != nil {
		defer func() {
			if cerr := store.Close(); cerr != nil {
				logger.Error(cerr.Error())
			}
		}()
	}

	// A reboot mid-flight must not wait for an operator: a recovered
	// counter implies the vehicle is already flying.
	gate := command.NewGate(config.Acquisition.Autostart || resumed)

	pipeline := NewPipeline(PipelineDeps{
		Gate:        gate,
		Aggregator:  aggregator,
		Sequencer:   sequencer,
		Machine:     machine,
		Recorder:    recorder,
		Hub:         hub,
		Coordinator: coordinator,
		Store:       store,
		SessionID:   sessionID,
		BatchSize:   config.Storage.MaxBatchSize,
	}, seconds(config.Acquisition.TickInterval), logger)

	srv := server.New(config.Server.ListenAddr, hub, pipeline, server.WithLogger(logger))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Run(runCtx); err != nil {
			errs <- fmt.Errorf("telemetry server: %w", err)
			cancel()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := pipeline.Run(runCtx); err != nil {
			errs <- fmt.Errorf("acquisition pipeline: %w", err)
			cancel()
		}
	}()

	wg.Wait()
	close(errs)

	var out []error
	for err := range errs {
		out = append(out, err)
	}
	return errors.Join(out...)
}

func createRecorder(config *Config, resumed bool, logger *slog.Logger) (*blackbox.Recorder, error) {
	maxBytes, err := humanize.ParseBytes(config.Blackbox.MaxSize)
	if err != nil {
		return nil, fmt.Errorf("parsing blackbox.maxSize: %w", err)
	}

	options := []func(*blackbox.Recorder){
		blackbox.WithLogger(logger),
		blackbox.WithMaxRecords(config.Blackbox.MaxRecords),
		blackbox.WithMaxBytes(maxBytes),
	}
	if resumed {
		options = append(options, blackbox.WithResume())
	}

	return blackbox.New(filepath.Join(config.DataDirectory, config.Blackbox.FileName), options...)
}

// createProbes builds the configured sensor set. Hardware adapters are
// registered by the deployment-specific build; the stock binary ships
// with the simulator suite for bench runs.
func createProbes(config *Config) ([]*sensor.Probe, error) {
	simCfg := config.Sensors.Simulation
	if !simCfg.Enabled {
		return nil, fmt.Errorf("no sensor sources configured: enable sensors.simulation or link hardware adapters")
	}

	sources := []sensor.Source{
		sensorsim.NewBarometer("baro", simCfg.Apogee, simCfg.Seed),
		sensorsim.NewThermometer("thermo", 20, simCfg.Seed+1),
		sensorsim.NewIMU("imu", simCfg.Seed+2),
		sensorsim.NewCarrierBoard("carrier", simCfg.Apogee, simCfg.Latitude, simCfg.Longitude, simCfg.Seed+3),
	}

	probes := make([]*sensor.Probe, len(sources))
	for i, src := range sources {
		probes[i] = sensor.NewProbe(src, seconds(config.Sensors.PollInterval),
			sensor.WithReadTimeout(seconds(config.Sensors.ReadTimeout)),
			sensor.WithDegradedThreshold(config.Sensors.DegradedThreshold))
	}
	return probes, nil
}

func createActuator(config *Config) (servo.Actuator, error) {
	if !config.Sensors.Simulation.Enabled {
		return nil, fmt.Errorf("no actuator configured: enable sensors.simulation or link a hardware adapter")
	}
	return servosim.NewActuator(config.Servo.SlewRate), nil
}

func createArchive(ctx context.Context, config *Config) (storage.Store, int64, error) {
	if !config.Storage.Enabled {
		return nil, 0, nil
	}

	dbPath := filepath.Join(config.DataDirectory,
		fmt.Sprintf("flight_%s.sqlite", time.Now().UTC().Format("20060102_150405")))
	store := storage.NewSqliteStore(dbPath)

	sessionID, err := store.CreateSession(ctx, config.Settings.VehicleID, config)
	if err != nil {
		_ = store.Close()
		return nil, 0, fmt.Errorf("creating session: %w", err)
	}

	return store, sessionID, nil
}

func missionConfig(c *MissionConfig) mission.Config {
	return mission.Config{
		AscentAltitude:      c.AscentAltitude,
		DescentRate:         c.DescentRate,
		DescentMinAltitude:  c.DescentMinAltitude,
		ReleaseMaxAltitude:  c.ReleaseMaxAltitude,
		ReleaseSeparation:   c.ReleaseSeparation,
		RecoveryMaxAltitude: c.RecoveryMaxAltitude,
		RecoveryRollRate:    c.RecoveryRollRate,
		BatteryLowVoltage:   c.BatteryLowVoltage,
		OrientationLimit:    c.OrientationLimit,
		DescentRateMin:      c.DescentRateMin,
		DescentRateMax:      c.DescentRateMax,
		RecoveryAutoStop:    seconds(c.RecoveryAutoStop),
	}
}

func servoConfig(c *ServoConfig) servo.Config {
	return servo.Config{
		ReleaseAngle:    c.ReleaseAngle,
		NeutralAngle:    c.NeutralAngle,
		Tolerance:       c.Tolerance,
		PollInterval:    seconds(c.PollInterval),
		ConvergeTimeout: seconds(c.ConvergeTimeout),
		MaxRetries:      c.MaxRetries,
		RetryBackoff:    seconds(c.RetryBackoff),
	}
}
