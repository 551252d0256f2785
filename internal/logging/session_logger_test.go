// Copyright (c) 2025 the project contributors.
// Use of this source code is governed by a license found in the LICENSE file.

package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSessionLogDisabledWhenDirEmpty(t *testing.T) {
	base := slog.New(slog.NewTextHandler(os.Stderr, nil))
	s := NewSessionLog("", 5)

	logger, closer, path, err := s.Open(base, "rpc-client")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer closer.Close()

	if logger != base {
		t.Error("expected base logger when dir is empty")
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
}

func TestSessionLogOpenCreatesFileAndLogs(t *testing.T) {
	dir := t.TempDir()
	var baseBuf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&baseBuf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s := NewSessionLog(dir, 5)

	logger, closer, logPath, err := s.Open(base, "rpc-client")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	channelDir := filepath.Join(dir, "rpc-client")
	if _, err := os.Stat(channelDir); os.IsNotExist(err) {
		t.Fatalf("channel dir not created: %s", channelDir)
	}

	expectedPath := filepath.Join(channelDir, "attempt-00001.log")
	if logPath != expectedPath {
		t.Errorf("expected path %q, got %q", expectedPath, logPath)
	}

	logger.Info("test message", "key", "value")
	closer.Close()

	if !strings.Contains(baseBuf.String(), "test message") {
		t.Errorf("log message not found in base handler output: %s", baseBuf.String())
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("reading channel log file: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "test message") {
		t.Errorf("log message not found in channel log file: %s", content)
	}
	if !strings.Contains(content, `"key":"value"`) {
		t.Errorf("structured key not found in channel log file: %s", content)
	}
	if !strings.Contains(content, `"attempt":1`) {
		t.Errorf("attempt attr missing from channel log file: %s", content)
	}
}

func TestSessionLogOpenNumbersSuccessiveAttempts(t *testing.T) {
	dir := t.TempDir()
	base := slog.New(slog.NewTextHandler(os.Stderr, nil))
	s := NewSessionLog(dir, 5)

	_, closer1, path1, err := s.Open(base, "rpc-client")
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	closer1.Close()

	_, closer2, path2, err := s.Open(base, "rpc-client")
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer closer2.Close()

	if path1 == path2 {
		t.Fatalf("expected distinct attempt files, got %q twice", path1)
	}
	if !strings.HasSuffix(path1, "attempt-00001.log") {
		t.Errorf("expected first attempt file, got %q", path1)
	}
	if !strings.HasSuffix(path2, "attempt-00002.log") {
		t.Errorf("expected second attempt file, got %q", path2)
	}
}

func TestSessionLogOpenPrunesOldAttempts(t *testing.T) {
	dir := t.TempDir()
	base := slog.New(slog.NewTextHandler(os.Stderr, nil))
	s := NewSessionLog(dir, 2)

	var lastPath string
	for i := 0; i < 5; i++ {
		_, closer, path, err := s.Open(base, "rpc-server")
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		closer.Close()
		lastPath = path
	}

	channelDir := filepath.Join(dir, "rpc-server")
	entries, err := os.ReadDir(channelDir)
	if err != nil {
		t.Fatalf("reading channel dir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 retained attempt files, got %d", len(entries))
	}
	if _, err := os.Stat(lastPath); err != nil {
		t.Errorf("most recent attempt file should survive pruning: %v", err)
	}
}

func TestSessionLogDebugInFileInfoInBase(t *testing.T) {
	dir := t.TempDir()
	var baseBuf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&baseBuf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	s := NewSessionLog(dir, 5)

	logger, closer, logPath, err := s.Open(base, "rpc-server")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	logger.Debug("debug only message")
	logger.Info("info for both")

	closer.Close()

	if strings.Contains(baseBuf.String(), "debug only message") {
		t.Error("DEBUG message should not appear in base handler with INFO level")
	}
	if !strings.Contains(baseBuf.String(), "info for both") {
		t.Error("INFO message missing from base handler")
	}

	data, _ := os.ReadFile(logPath)
	content := string(data)
	if !strings.Contains(content, "debug only message") {
		t.Errorf("DEBUG message missing from channel log file: %s", content)
	}
	if !strings.Contains(content, "info for both") {
		t.Errorf("INFO message missing from channel log file: %s", content)
	}
}

func TestSessionLogClearRemovesChannelDirAndResetsCounter(t *testing.T) {
	dir := t.TempDir()
	base := slog.New(slog.NewTextHandler(os.Stderr, nil))
	s := NewSessionLog(dir, 5)

	_, closer, path, err := s.Open(base, "rpc-client")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	closer.Close()

	s.Clear("rpc-client")

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("attempt file should have been removed by Clear")
	}

	_, closer2, path2, err := s.Open(base, "rpc-client")
	if err != nil {
		t.Fatalf("reopen after clear: %v", err)
	}
	defer closer2.Close()
	if !strings.HasSuffix(path2, "attempt-00001.log") {
		t.Errorf("expected attempt counter reset to 1, got %q", path2)
	}
}

func TestSessionLogClearNoOpWhenDirEmpty(t *testing.T) {
	s := NewSessionLog("", 5)
	s.Clear("rpc-client")
}

func TestSessionLogClearNoOpWhenChannelNeverOpened(t *testing.T) {
	s := NewSessionLog(t.TempDir(), 5)
	s.Clear("never-opened")
}

func TestSessionLogOpenWithAttrs(t *testing.T) {
	dir := t.TempDir()
	var baseBuf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&baseBuf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s := NewSessionLog(dir, 5)

	logger, closer, logPath, err := s.Open(base, "rpc-client")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	enriched := logger.With("mode", "parallel")
	enriched.Info("enriched message")

	closer.Close()

	if !strings.Contains(baseBuf.String(), "rpc-client") {
		t.Error("channel_id attr missing from base handler")
	}

	data, _ := os.ReadFile(logPath)
	content := string(data)
	if !strings.Contains(content, "rpc-client") {
		t.Errorf("channel_id attr missing from channel log file: %s", content)
	}
	if !strings.Contains(content, "parallel") {
		t.Errorf("mode attr missing from channel log file: %s", content)
	}
}
