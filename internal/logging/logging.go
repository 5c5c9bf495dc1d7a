/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package logging implements the Logger collaborator contract named in
// spec §6: Log(level, message) and LogAccess(ip, method, uri, status,
// bytes, took). Both are safe to call from any worker goroutine; access log
// entries are queued and drained by a single background goroutine so a
// slow sink never blocks the event loop.
package logging

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Level mirrors the small level set the engine actually emits at; it
// deliberately does not expose logrus's full level range to callers.
type Level uint8

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel converts a config string into a Level, defaulting to Info
// for an empty or unrecognized value the way the teacher's logger
// config treats an unset level (logger/level.go).
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) logrus() logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// accessEntry is one row queued for the access-log goroutine.
type accessEntry struct {
	ip     string
	method string
	uri    string
	status int
	bytes  int64
	took   time.Duration
}

// Logger is the collaborator contract of spec §6, plus a Close to drain
// the access-log queue on shutdown.
type Logger struct {
	app  *logrus.Logger
	acc  *logrus.Logger
	ch   chan accessEntry
	done chan struct{}
}

// New builds a Logger writing structured entries to stderr at the given
// level, and access-log lines (if accessLogPath is non-empty) to that
// file, appended, created if missing — matching the teacher's
// hookfile.go append-mode file sink.
func New(level Level, accessLogPath string) (*Logger, error) {
	app := logrus.New()
	app.SetLevel(level.logrus())
	app.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	app.SetOutput(os.Stderr)

	acc := logrus.New()
	acc.SetFormatter(&logrus.JSONFormatter{})
	if accessLogPath != "" {
		f, err := os.OpenFile(accessLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		acc.SetOutput(f)
	} else {
		acc.SetOutput(os.Stdout)
	}

	l := &Logger{
		app:  app,
		acc:  acc,
		ch:   make(chan accessEntry, 4096),
		done: make(chan struct{}),
	}
	go l.drain()
	return l, nil
}

func (l *Logger) drain() {
	defer close(l.done)
	for e := range l.ch {
		l.acc.WithFields(logrus.Fields{
			"ip":       e.ip,
			"method":   e.method,
			"uri":      e.uri,
			"status":   e.status,
			"bytes":    e.bytes,
			"duration": e.took.String(),
		}).Info("access")
	}
}

// Log emits a single application log line at the given level.
func (l *Logger) Log(level Level, message string) {
	l.app.Log(level.logrus(), message)
}

// Logf is the formatted variant used throughout the engine's internal
// packages, matching the teacher's preference for printf-style sinks
// over building intermediate strings at call sites.
func (l *Logger) Logf(level Level, format string, args ...any) {
	l.app.Logf(level.logrus(), format, args...)
}

// LogAccess enqueues an access-log entry. It never blocks the caller on
// a full queue; instead it drops the entry and logs a warning, matching the
// spec's "non-blocking permitted" contract for the logger collaborator.
func (l *Logger) LogAccess(ip, method, uri string, status int, bytes int64, took time.Duration) {
	select {
	case l.ch <- accessEntry{ip: ip, method: method, uri: uri, status: status, bytes: bytes, took: took}:
	default:
		l.app.Warn("access log queue full, dropping entry")
	}
}

// Close drains the access-log queue and releases the file sink.
func (l *Logger) Close() {
	close(l.ch)
	<-l.done
	if closer, ok := l.acc.Out.(*os.File); ok && closer != os.Stdout {
		_ = closer.Close()
	}
}
