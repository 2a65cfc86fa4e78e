// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuGH/avbridge/internal/broker"
	"github.com/ManuGH/avbridge/internal/log"
	"golang.org/x/time/rate"
)

const (
	cmdStartStream = "start_stream"
	cmdStopStream  = "stop_stream"
	cmdConfigure   = "configure"

	commandPattern = "command/devices/#"
	commandBuffer  = 128
)

// RunCommands consumes command/devices/... messages until ctx ends:
//
//	command/devices/scan                  {}
//	command/devices/{id}/start_stream     {"protocol": "rtsp", "params": {...}}
//	command/devices/{id}/stop_stream      {}
//	command/devices/{id}/configure        {"settings": {...}}
//
// A "reply_to" topic in the payload receives {"ok", "error", "command", "device_id"}.
// Device commands run on their own goroutine; ordering between commands for
// one device is left to the lifecycle guards.
func (m *Manager) RunCommands(ctx context.Context) error {
	if m.opts.Bus == nil {
		return errors.New("device commands need a bus")
	}
	sub, err := m.opts.Bus.SubscribeChan(SenderID, commandPattern, commandBuffer)
	if err != nil {
		return fmt.Errorf("subscribe commands: %w", err)
	}
	defer func() { _ = sub.Close() }()

	scanLimiter := rate.NewLimiter(rate.Every(m.opts.ScanInterval), 1)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.C():
			if !ok {
				return nil
			}
			m.handleCommand(ctx, msg, scanLimiter)
		}
	}
}

func (m *Manager) handleCommand(ctx context.Context, msg broker.Message, scanLimiter *rate.Limiter) {
	logger := m.logger.With().Str(log.FieldTopic, msg.Topic).Str(log.FieldSenderID, msg.SenderID).Logger()

	if msg.Topic == broker.TopicCommandScan {
		switch {
		case !scanLimiter.Allow():
			logger.Debug().Msg("scan command rate limited")
			m.reply(ctx, msg, "scan", "", errors.New("scan rate limited"))
		case !m.TriggerScan():
			m.reply(ctx, msg, "scan", "", errors.New("scan already running"))
		default:
			m.reply(ctx, msg, "scan", "", nil)
		}
		return
	}

	id, verb := broker.Segment(msg.Topic, 2), broker.Segment(msg.Topic, 3)
	if id == "" || broker.Segment(msg.Topic, 4) != "" {
		logger.Warn().Msg("ignoring malformed device command")
		return
	}

	var run func(context.Context) error
	switch verb {
	case cmdStartStream:
		protocol, _ := msg.Payload["protocol"].(string)
		params, _ := msg.Payload["params"].(map[string]any)
		run = func(ctx context.Context) error {
			_, err := m.StartStream(ctx, id, protocol, params)
			return err
		}
	case cmdStopStream:
		run = func(ctx context.Context) error { return m.StopStream(ctx, id) }
	case cmdConfigure:
		settings, ok := msg.Payload["settings"].(map[string]any)
		if !ok {
			m.reply(ctx, msg, verb, id, &ConfigurationError{DeviceID: id, Cause: errors.New("payload has no settings object")})
			return
		}
		run = func(ctx context.Context) error {
			_, err := m.Configure(ctx, id, settings)
			return err
		}
	default:
		logger.Warn().Str("command", verb).Msg("unknown device command")
		return
	}

	m.spawn(func() {
		err := run(ctx)
		if err != nil {
			logger.Warn().Err(err).Str(log.FieldDeviceID, id).Str("command", verb).Msg("device command failed")
		}
		m.reply(ctx, msg, verb, id, err)
	})
}

func (m *Manager) reply(ctx context.Context, msg broker.Message, command, id string, err error) {
	to, _ := msg.Payload["reply_to"].(string)
	if to == "" {
		return
	}
	p := map[string]any{"ok": err == nil, "command": command}
	if id != "" {
		p["device_id"] = id
	}
	if err != nil {
		p["error"] = err.Error()
	}
	m.emit(ctx, event{topic: to, payload: p})
}
