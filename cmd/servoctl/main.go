package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"codeberg.org/mutker/servoctl/internal/config"
	"codeberg.org/mutker/servoctl/internal/controller"
	"codeberg.org/mutker/servoctl/internal/encoder"
	"codeberg.org/mutker/servoctl/internal/errors"
	"codeberg.org/mutker/servoctl/internal/logger"
	"codeberg.org/mutker/servoctl/internal/loop"
	"codeberg.org/mutker/servoctl/internal/motor"
	"codeberg.org/mutker/servoctl/internal/telemetry"
)

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.LogLevel, logger.IsService()); err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug().Str("mode", cfg.Mode).Msg("Config loaded")
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	if err := run(ctx); err != nil {
		var appErr errors.Error
		if errors.As(err, &appErr) {
			logger.ErrorWithCode(appErr).Msg("Error in control loop")
		} else {
			logger.Error().Err(err).Msg("Error in control loop")
		}
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	interval := time.Duration(cfg.Interval) * time.Millisecond
	referencePeriod := time.Duration(cfg.ReferencePeriod) * time.Millisecond
	backoff := time.Duration(cfg.Backoff) * time.Millisecond

	collector, err := telemetry.NewService(telemetry.Config{
		Enabled: cfg.Telemetry,
		DBPath:  cfg.TelemetryDB,
	})
	if err != nil {
		return err
	}
	defer collector.Close()

	switch cfg.Mode {
	case config.ModeServer:
		pi, err := newController()
		if err != nil {
			return err
		}
		s, err := loop.NewServer(loop.ServerConfig{
			Address:          fmt.Sprintf(":%d", cfg.Port),
			ReferenceRPM:     int32(cfg.ReferenceRPM),
			ReferencePeriod:  referencePeriod,
			Backoff:          backoff,
			ResetOnReconnect: cfg.ResetOnReconnect,
		}, pi, collector)
		if err != nil {
			return err
		}

		return s.Run(ctx)

	case config.ModeClient:
		drive, err := openMotor()
		if err != nil {
			return err
		}
		defer drive.Close()
		est, err := newEstimator()
		if err != nil {
			return err
		}
		c, err := loop.NewClient(loop.ClientConfig{
			Address:  serverAddress(),
			Interval: interval,
			Backoff:  backoff,
		}, drive, est)
		if err != nil {
			return err
		}

		return c.Run(ctx)

	default:
		drive, err := openMotor()
		if err != nil {
			return err
		}
		defer drive.Close()
		est, err := newEstimator()
		if err != nil {
			return err
		}
		pi, err := newController()
		if err != nil {
			return err
		}
		l, err := loop.NewLocal(loop.LocalConfig{
			Interval:        interval,
			ReferenceRPM:    int32(cfg.ReferenceRPM),
			ReferencePeriod: referencePeriod,
			Monitor:         cfg.Monitor,
		}, drive, est, pi, collector)
		if err != nil {
			return err
		}

		return l.Run(ctx)
	}
}

func openMotor() (motor.Motor, error) {
	if cfg.SerialDevice != "" {
		return motor.OpenSerial(motor.SerialConfig{
			Device:   cfg.SerialDevice,
			BaudRate: cfg.BaudRate,
		})
	}

	simCfg := motor.DefaultSimConfig()
	simCfg.Resolution = cfg.Resolution
	logger.Info().Msg("No serial device configured, using simulated motor")

	return motor.NewSim(simCfg), nil
}

func newEstimator() (*encoder.Estimator, error) {
	return encoder.New(encoder.Config{
		Resolution: cfg.Resolution,
		FilterNum:  cfg.FilterNum,
		FilterDen:  cfg.FilterDen,
	})
}

func newController() (*controller.PI, error) {
	return controller.New(controller.Config{
		Kp:  cfg.Kp,
		Ki:  cfg.Ki,
		Min: cfg.ControlMin(),
		Max: cfg.ControlMax,
	})
}

// serverAddress appends the configured port when the address carries none.
func serverAddress() string {
	if strings.Contains(cfg.ServerAddress, ":") {
		return cfg.ServerAddress
	}

	return fmt.Sprintf("%s:%d", cfg.ServerAddress, cfg.Port)
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal")
	cancel()
}
