// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/relabs-tech/space_calibrator/internal/calibration"
	"github.com/relabs-tech/space_calibrator/internal/config"
	"github.com/relabs-tech/space_calibrator/internal/offset"
	"github.com/relabs-tech/space_calibrator/internal/profile"
	"github.com/relabs-tech/space_calibrator/internal/tracking"
)

// RunCalibrator runs the calibration daemon until ctx is done: it reads
// device poses from MQTT, drives the calibrator, publishes offsets and
// serves the control API.
func RunCalibrator(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (err error) {
	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDCalibrator, logger)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	clk := clock.New()
	src := tracking.NewMQTTSource(client, cfg.TopicDevicePoses, millis(cfg.PoseStaleAfterMs), clk, logger.Named("tracking"))
	if err := src.Start(); err != nil {
		return err
	}

	store, closeStore, err := OpenStore(cfg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeStore()) }()

	msgs := calibration.NewMessageLog(logger.Named("messages"))
	if cfg.TopicMessages != "" {
		relay := NewMessageRelay(client, cfg.TopicMessages, clk, logger)
		defer msgs.Subscribe(relay.Publish)()
	}

	applier := offset.NewMQTTApplier(client, cfg.TopicOffsetPrefix)
	cal, err := calibration.New(CalibratorOptions(cfg, src, applier, store, msgs, logger.Named("calibration")))
	if err != nil {
		return err
	}
	switch err := cal.LoadProfile(); {
	case errors.Is(err, profile.ErrNoProfile):
		logger.Info("no stored calibration profile")
	case err != nil:
		logger.Warnw("could not load calibration profile", "error", err)
	}

	loop := NewLoop(cal, msgs, clk, millis(cfg.TickIntervalMs), logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serverErr := make(chan error, 1)
	if cfg.WebServerPort > 0 {
		server := NewControlServer(loop, msgs, store,
			tracking.DeviceID(cfg.ReferenceDeviceID), tracking.DeviceID(cfg.TargetDeviceID), logger.Named("control"))
		go func() {
			serverErr <- server.ListenAndServe(ctx, fmt.Sprintf(":%d", cfg.WebServerPort))
			cancel()
		}()
	} else {
		serverErr <- nil
	}

	loopErr := loop.Run(ctx)
	cancel()
	return multierr.Combine(loopErr, <-serverErr)
}
