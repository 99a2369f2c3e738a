// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"sync"

	"go.uber.org/zap"
)

// maxMessages bounds how many messages a MessageLog keeps.
const maxMessages = 256

// MessageSink receives human-readable progress and error messages.
type MessageSink interface {
	Message(msg string)
}

// MessageLog is the MessageSink used by the daemon. It keeps the messages of
// the current run, logs them and fans them out to listeners such as the
// websocket hub and the MQTT relay.
type MessageLog struct {
	logger *zap.SugaredLogger

	mu        sync.Mutex
	messages  []string
	listeners map[int]func(string)
	nextID    int
}

// NewMessageLog creates an empty log. A nil logger is allowed.
func NewMessageLog(logger *zap.SugaredLogger) *MessageLog {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &MessageLog{
		logger:    logger,
		listeners: make(map[int]func(string)),
	}
}

// Message appends msg and notifies listeners.
func (l *MessageLog) Message(msg string) {
	l.logger.Info(msg)

	l.mu.Lock()
	l.messages = append(l.messages, msg)
	if len(l.messages) > maxMessages {
		l.messages = append([]string(nil), l.messages[len(l.messages)-maxMessages:]...)
	}
	listeners := make([]func(string), 0, len(l.listeners))
	for _, fn := range l.listeners {
		listeners = append(listeners, fn)
	}
	l.mu.Unlock()

	for _, fn := range listeners {
		fn(msg)
	}
}

// Messages returns a copy of the retained messages, oldest first.
func (l *MessageLog) Messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.messages...)
}

// Clear drops the retained messages. Called when a new calibration starts.
func (l *MessageLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = nil
}

// Subscribe registers fn for every future message. The returned function
// removes it again. fn runs on the goroutine that produced the message and
// must not block.
func (l *MessageLog) Subscribe(fn func(string)) (unsubscribe func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextID
	l.nextID++
	l.listeners[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.listeners, id)
	}
}

type discardSink struct{}

func (discardSink) Message(string) {}
