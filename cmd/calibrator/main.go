// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/relabs-tech/space_calibrator/internal/app"
	"github.com/relabs-tech/space_calibrator/internal/calibration"
	"github.com/relabs-tech/space_calibrator/internal/config"
	"github.com/relabs-tech/space_calibrator/internal/logging"
	"github.com/relabs-tech/space_calibrator/internal/profile"
)

const (
	flagConfig   = "config"
	flagLogLevel = "log-level"
	flagSamples  = "samples"
	flagSave     = "save"
	flagLimit    = "limit"
)

var logger *zap.SugaredLogger

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cliApp := &cli.App{
		Name:  "calibrator",
		Usage: "align a target tracking system with a reference tracking system",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "path to the KEY=VALUE configuration file",
				Value:   "calibrator_config.txt",
			},
			&cli.StringFlag{
				Name:  flagLogLevel,
				Usage: "override LOG_LEVEL",
			},
		},
		Before: setup,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "run the calibration daemon against the MQTT tracking feed",
				Action: run,
			},
			{
				Name:  "simulate",
				Usage: "calibrate the built-in mock rig without a broker",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  flagSamples,
						Usage: "samples per phase, defaults to SAMPLE_COUNT",
					},
					&cli.BoolFlag{
						Name:  flagSave,
						Usage: "save the simulated profile to the configured store",
					},
				},
				Action: simulate,
			},
			{
				Name:   "profile",
				Usage:  "print the stored calibration profile",
				Action: showProfile,
			},
			{
				Name:  "history",
				Usage: "list stored calibration profiles, newest first (sqlite store only)",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  flagLimit,
						Usage: "maximum number of profiles",
						Value: 10,
					},
				},
				Action: history,
			},
		},
	}

	if err := cliApp.RunContext(ctx, os.Args); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func setup(c *cli.Context) error {
	if err := config.InitGlobal(c.String(flagConfig)); err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	cfg := config.Get()

	levelName := cfg.LogLevel
	if c.IsSet(flagLogLevel) {
		levelName = c.String(flagLogLevel)
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return err
	}
	logger, err = logging.NewLogger("calibrator", level)
	return err
}

func run(c *cli.Context) error {
	defer logger.Sync() //nolint:errcheck
	logger.Info("starting space calibrator")
	return app.RunCalibrator(c.Context, config.Get(), logger)
}

func simulate(c *cli.Context) error {
	cfg := config.Get()
	opts := app.SimulationOptions{
		Rig: app.MockRigConfig(cfg),
		Tolerances: calibration.Tolerances{
			MinDeltaAngle: cfg.MinDeltaAngleRad,
			MinAxisNorm:   cfg.MinAxisNorm,
			RankTolerance: cfg.RankTolerance,
		},
		SampleCount: cfg.SampleCount,
		Logger:      logger.Named("simulate"),
		OnMessage:   func(msg string) { fmt.Println(msg) },
	}
	if c.IsSet(flagSamples) {
		opts.SampleCount = c.Int(flagSamples)
	}
	if c.Bool(flagSave) {
		store, closeStore, err := app.OpenStore(cfg)
		if err != nil {
			return err
		}
		defer closeStore() //nolint:errcheck
		opts.Store = store
	}

	res, err := app.RunSimulation(opts)
	if err != nil {
		return err
	}

	t := res.Truth
	fmt.Printf("truth       ROLL=%7.3f  YAW=%7.3f  PITCH=%7.3f  X=%8.3f  Y=%8.3f  Z=%8.3f\n",
		t.UniverseRotation.Roll, t.UniverseRotation.Yaw, t.UniverseRotation.Pitch,
		t.UniverseTranslationCM.X, t.UniverseTranslationCM.Y, t.UniverseTranslationCM.Z)
	fmt.Printf("calibrated  ROLL=%7.3f  YAW=%7.3f  PITCH=%7.3f  X=%8.3f  Y=%8.3f  Z=%8.3f\n",
		res.Rotation.Roll, res.Rotation.Yaw, res.Rotation.Pitch,
		res.TranslationCM.X, res.TranslationCM.Y, res.TranslationCM.Z)
	fmt.Printf("error       rotation=%.5f deg  translation=%.5f cm  (%d ticks, %s simulated)\n",
		res.RotationError(), res.TranslationError(), res.Ticks, res.Elapsed)
	return nil
}

func openStore() (profile.Store, func() error, error) {
	return app.OpenStore(config.Get())
}

func showProfile(c *cli.Context) error {
	store, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore() //nolint:errcheck

	p, err := store.Load()
	if err != nil {
		return err
	}
	return printJSON(p)
}

func history(c *cli.Context) error {
	store, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore() //nolint:errcheck

	hs, ok := store.(interface {
		History(limit int) ([]*profile.Profile, error)
	})
	if !ok {
		return errors.Errorf("profile store %q keeps no history, set PROFILE_STORE=%s", config.Get().ProfileStore, config.StoreSQLite)
	}
	profiles, err := hs.History(c.Int(flagLimit))
	if err != nil {
		return err
	}
	for _, p := range profiles {
		fmt.Printf("%s  %s  %-10s -> %-10s  ROLL=%7.3f YAW=%7.3f PITCH=%7.3f  X=%8.3f Y=%8.3f Z=%8.3f\n",
			p.CreatedAt.Format("2006-01-02 15:04:05"), shortID(p.ID),
			p.ReferenceTrackingSystem, p.TargetTrackingSystem,
			p.Rotation.Roll, p.Rotation.Yaw, p.Rotation.Pitch,
			p.TranslationCM.X, p.TranslationCM.Y, p.TranslationCM.Z)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
