// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package ratelog wraps a structured logger with a token-bucket limiter
// so that a misbehaving (or adversarial) peer issuing a stream of
// malformed messages cannot flood the host process's logs.
package ratelog

import (
	"log/slog"

	"golang.org/x/time/rate"
)

// Logger rate-limits Warn-level log lines.
type Logger struct {
	log     *slog.Logger
	limiter *rate.Limiter
}

// New wraps log with a limiter allowing burst immediate messages and
// refilling at rps per second.
func New(log *slog.Logger, rps float64, burst int) *Logger {
	if log == nil {
		log = slog.Default()
	}
	return &Logger{
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Warn logs at warn level if the limiter admits it; otherwise the
// message is dropped silently, which is the point.
func (l *Logger) Warn(msg string, args ...any) {
	if !l.limiter.Allow() {
		return
	}
	l.log.Warn(msg, args...)
}

// Error always logs (errors are rarer and each one is actionable) but is
// exposed here for symmetry with Warn.
func (l *Logger) Error(msg string, args ...any) {
	l.log.Error(msg, args...)
}
