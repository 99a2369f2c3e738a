// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/relabs-tech/space_calibrator/internal/calibration"
)

// Status is what the control server reports about the calibrator.
type Status struct {
	Context   calibration.Context `json:"context"`
	Collected int                 `json:"collected"`
	Target    int                 `json:"target"`
	Messages  []string            `json:"messages"`
}

// Command runs on the loop goroutine with exclusive access to the
// calibrator.
type Command func(c *calibration.Calibrator, now time.Time) error

type request struct {
	cmd   Command
	reply chan error
}

// Loop owns the calibrator and is the only goroutine that touches it. It
// ticks at the interval the calibrator asks for and runs commands from other
// goroutines between ticks.
type Loop struct {
	cal         *calibration.Calibrator
	msgs        *calibration.MessageLog
	clock       clock.Clock
	minInterval time.Duration
	logger      *zap.SugaredLogger

	requests chan request

	mu     sync.RWMutex
	status Status
}

// NewLoop creates a loop. msgs may be nil.
func NewLoop(cal *calibration.Calibrator, msgs *calibration.MessageLog, clk clock.Clock, minInterval time.Duration, logger *zap.SugaredLogger) *Loop {
	if clk == nil {
		clk = clock.New()
	}
	if minInterval <= 0 {
		minInterval = calibration.DefaultMinTickInterval
	}
	l := &Loop{
		cal:         cal,
		msgs:        msgs,
		clock:       clk,
		minInterval: minInterval,
		logger:      logger,
		requests:    make(chan request),
	}
	l.publishStatus()
	return l
}

// Run ticks the calibrator until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Infow("calibration loop started", "min_interval", l.minInterval)
	wait := l.tick()
	timer := l.clock.Timer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("calibration loop stopped")
			return nil
		case req := <-l.requests:
			err := req.cmd(l.cal, l.clock.Now())
			l.publishStatus()
			req.reply <- err
		case <-timer.C:
			timer.Reset(l.tick())
		}
	}
}

// tick advances the calibrator and returns how long to wait for the next tick.
func (l *Loop) tick() time.Duration {
	wanted := l.cal.Tick(l.clock.Now())
	l.publishStatus()
	if wanted < l.minInterval {
		return l.minInterval
	}
	return wanted
}

// Do runs cmd on the loop goroutine and returns its error.
func (l *Loop) Do(ctx context.Context, cmd Command) error {
	req := request{cmd: cmd, reply: make(chan error, 1)}
	select {
	case l.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) publishStatus() {
	collected, target := l.cal.Progress()
	st := Status{
		Context:   l.cal.Context(),
		Collected: collected,
		Target:    target,
	}
	if l.msgs != nil {
		st.Messages = l.msgs.Messages()
	}
	l.mu.Lock()
	l.status = st
	l.mu.Unlock()
}

// Status returns the state after the last tick or command.
func (l *Loop) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st := l.status
	st.Context = st.Context.Clone()
	st.Messages = append([]string(nil), st.Messages...)
	return st
}
