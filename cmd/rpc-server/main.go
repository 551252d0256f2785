// Copyright (c) 2025 the project contributors.
// Use of this source code is governed by a license found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kadirov-dev/fiberchan/internal/codec"
	"github.com/kadirov-dev/fiberchan/internal/config"
	"github.com/kadirov-dev/fiberchan/internal/echoproto"
	"github.com/kadirov-dev/fiberchan/internal/logging"
	"github.com/kadirov-dev/fiberchan/internal/rpcchannel"
	"github.com/kadirov-dev/fiberchan/internal/rpcmsg"
	"github.com/kadirov-dev/fiberchan/internal/wire"
)

func main() {
	configPath := flag.String("config", "/etc/fiberchan/server.yaml", "path to server config file")
	flag.Parse()

	cfg, err := config.LoadServerConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser, levelVar := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.FilePath)
	defer logCloser.Close()
	logging.NotifyLevelToggle(levelVar, syscall.SIGUSR1)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.ServerConfig, logger *slog.Logger) error {
	mode, err := codec.ParseMode(cfg.Codec.Mode)
	if err != nil {
		return fmt.Errorf("parsing compression mode: %w", err)
	}

	ln, err := net.Listen("tcp", cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Server.ListenAddr, err)
	}
	defer ln.Close()

	logger.Info("server listening", "address", cfg.Server.ListenAddr)

	go func() {
		<-ctx.Done()
		logger.Info("shutting down server")
		ln.Close()
	}()

	wireOpts := wire.Options{
		MaxFramePayload:     cfg.Channel.MaxFramePayloadRaw,
		PriorityDSCP:        cfg.DSCP.PriorityDSCPTable(),
		ThrottleBytesPerSec: cfg.Channel.ThrottleBytesPerSecRaw,
		Logger:              logger,
	}

	sessionLog := logging.NewSessionLog(cfg.Logging.ChannelLogDir, 5)

	consecutiveErrors := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				logger.Info("server shutdown complete")
				return nil
			default:
			}
			consecutiveErrors++
			logger.Error("accepting connection", "error", err, "consecutive_errors", consecutiveErrors)
			delay := time.Duration(consecutiveErrors) * 100 * time.Millisecond
			if delay > cfg.Server.AcceptErrorBackoffMax {
				delay = cfg.Server.AcceptErrorBackoffMax
			}
			time.Sleep(delay)
			continue
		}

		consecutiveErrors = 0
		go serveConn(ctx, conn, wireOpts, mode, logger, sessionLog)
	}
}

func serveConn(ctx context.Context, conn net.Conn, wireOpts wire.Options, mode codec.Mode, logger *slog.Logger, sessionLog *logging.SessionLog) {
	channelID := fmt.Sprintf("rpc-server-%d", time.Now().UnixNano())
	sessionLogger, sessionCloser, sessionLogPath, err := sessionLog.Open(logger, channelID)
	if err != nil {
		logger.Error("opening connection log", "error", err)
		sessionCloser = io.NopCloser(nil)
	} else {
		logger = sessionLogger
	}
	defer sessionCloser.Close()
	if sessionLogPath != "" {
		logger.Debug("connection log file opened", "path", sessionLogPath, "remote", conn.RemoteAddr())
	}

	decoder := echoproto.NewDecoder(mode)

	var sc *rpcchannel.ServerChannel[echoproto.Message]
	sc = rpcchannel.NewServerChannel[echoproto.Message](conn, rpcchannel.ServerOptions[echoproto.Message]{
		Decode: decoder.Decode,
		OnAction: func(action rpcchannel.Action[echoproto.Message]) {
			reply := fmt.Sprintf("%s", upper(action.Message.Text))
			header := rpcmsg.MessageHeader{
				Id:        action.Message.Header.Id,
				Procedure: echoproto.ProcedureEcho,
				Priority:  action.Message.Header.Priority,
			}
			out, err := echoproto.NewOutgoing(header, mode, reply)
			if err != nil {
				logger.Error("building reply", "error", err)
				return
			}
			sc.Reply(action.SeqNo, out)
		},
		OnError: func(seqno rpcmsg.MessageSeqNo, err error) {
			logger.Warn("decode error", "seqno", seqno, "error", err)
		},
		WireOptions: wireOpts,
		Logger:      logger,
	})

	if err := sc.Run(ctx); err != nil {
		logger.Debug("connection closed", "remote", conn.RemoteAddr(), "error", err)
		return
	}
	sessionCloser.Close()
	sessionLog.Clear(channelID)
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}
