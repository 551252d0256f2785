// Copyright (c) 2025 the project contributors.
// Use of this source code is governed by a license found in the LICENSE file.

package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
)

// NewLogger builds a slog.Logger configured with the given level,
// format and output target, plus a *slog.LevelVar wired to the same
// handler so a long-lived channel process (cmd/rpc-client,
// cmd/rpc-server) can drop to debug at runtime — e.g. on a signal —
// to diagnose a stuck reconnect or a keep-alive timeout without
// restarting the channel and losing its Connecting-state buffer.
//
// Supported formats: "json" (default) and "text".
// Supported levels: "debug", "info" (default), "warn", "error".
// If filePath is non-empty, logs are written to stdout and the file
// (via MultiWriter). Returns the logger, an io.Closer that should be
// called on shutdown to close the file (a no-op if filePath is
// empty), and the level var.
func NewLogger(level, format, filePath string) (*slog.Logger, io.Closer, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(parseLevel(level))
	opts := &slog.HandlerOptions{Level: lvl, AddSource: lvl.Level() == slog.LevelDebug}

	var w io.Writer = os.Stdout
	var closer io.Closer = io.NopCloser(strings.NewReader(""))

	if filePath != "" {
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "WARNING: could not open log file %q: %v (logging to stdout only)\n", filePath, err)
		} else {
			w = io.MultiWriter(os.Stdout, f)
			closer = f
		}
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler), closer, lvl
}

// NotifyLevelToggle starts a background goroutine that flips lvl between
// its current value and slog.LevelDebug each time sig is received, so an
// operator can raise verbosity on a running rpc-client/rpc-server without
// restarting it and dropping the channel's Connecting-state buffer. The
// level it restores to on the second signal is whatever lvl held at the
// time NotifyLevelToggle was called, not the original configured level,
// so repeated toggles alternate cleanly even if something else also
// touches lvl.
func NotifyLevelToggle(lvl *slog.LevelVar, sig os.Signal) {
	base := lvl.Level()
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sig)
	go func() {
		debug := false
		for range ch {
			if debug {
				lvl.Set(base)
			} else {
				lvl.Set(slog.LevelDebug)
			}
			debug = !debug
		}
	}()
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
