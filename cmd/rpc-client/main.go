// Copyright (c) 2025 the project contributors.
// Use of this source code is governed by a license found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kadirov-dev/fiberchan/internal/bufferstore"
	"github.com/kadirov-dev/fiberchan/internal/codec"
	"github.com/kadirov-dev/fiberchan/internal/config"
	"github.com/kadirov-dev/fiberchan/internal/echoproto"
	"github.com/kadirov-dev/fiberchan/internal/health"
	"github.com/kadirov-dev/fiberchan/internal/logging"
	"github.com/kadirov-dev/fiberchan/internal/rpcchannel"
	"github.com/kadirov-dev/fiberchan/internal/rpcmsg"
	"github.com/kadirov-dev/fiberchan/internal/wire"
)

func main() {
	configPath := flag.String("config", "/etc/fiberchan/client.yaml", "path to client config file")
	message := flag.String("message", "hello from rpc-client", "text to echo off the server")
	flag.Parse()

	cfg, err := config.LoadClientConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser, levelVar := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.FilePath)
	defer logCloser.Close()
	logging.NotifyLevelToggle(levelVar, syscall.SIGUSR1)

	sessionLog := logging.NewSessionLog(cfg.Logging.ChannelLogDir, 5)
	const channelID = "rpc-client"
	logger, sessionCloser, sessionLogPath, err := sessionLog.Open(logger, channelID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening channel log: %v\n", err)
		os.Exit(1)
	}
	defer sessionCloser.Close()
	if sessionLogPath != "" {
		logger.Info("channel log file opened", "path", sessionLogPath)
	}

	mode, err := codec.ParseMode(cfg.Codec.Mode)
	if err != nil {
		logger.Error("parsing compression mode", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var overflow rpcchannel.OverflowStore
	if cfg.Channel.OverflowBucket != "" {
		store, err := bufferstore.New(ctx, cfg.Channel.OverflowBucket, "", 24*time.Hour)
		if err != nil {
			logger.Error("configuring overflow store", "error", err)
			os.Exit(1)
		}
		overflow = store
	}

	decoder := echoproto.NewDecoder(mode)

	dial := func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", cfg.Server.Address)
	}

	hostHealth := health.NewMonitor(logger, 0)

	channel := rpcchannel.NewClientChannel[echoproto.Message](rpcchannel.ClientOptions[echoproto.Message]{
		Dial:             dial,
		Decode:           decoder.Decode,
		KeepAliveTimeout: cfg.Channel.KeepAliveTimeout,
		BackoffBase:      cfg.Channel.BackoffBase,
		BufferCapacity:   cfg.Channel.BufferCapacity,
		OverflowStore:    overflow,
		ChannelID:        channelID,
		WireOptions: wire.Options{
			MaxFramePayload:     cfg.Channel.MaxFramePayloadRaw,
			PriorityDSCP:        cfg.DSCP.PriorityDSCPTable(),
			ThrottleBytesPerSec: cfg.Channel.ThrottleBytesPerSecRaw,
			Logger:              logger,
		},
		Logger:     logger,
		HostHealth: hostHealth,
	})
	defer channel.Close()

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	runDone := make(chan error, 1)
	go func() { runDone <- channel.Run(runCtx) }()

	ids := rpcmsg.NewMessageIdAllocator()
	header := rpcmsg.MessageHeader{
		Id:        ids.Next(),
		Procedure: echoproto.ProcedureEcho,
		Priority:  0,
	}
	out, err := echoproto.NewOutgoing(header, mode, *message)
	if err != nil {
		logger.Error("building request", "error", err)
		os.Exit(1)
	}

	responseCh := make(chan echoproto.Message, 1)
	errCh := make(chan error, 1)
	channel.SendMessage(out, rpcchannel.ResponseHandlerFunc[echoproto.Message]{
		OnResponse: func(seqno rpcmsg.MessageSeqNo, message echoproto.Message) {
			responseCh <- message
		},
		OnError: func(seqno rpcmsg.MessageSeqNo, err error) {
			errCh <- err
		},
	})

	select {
	case reply := <-responseCh:
		fmt.Println(reply.Text)
		snap := channel.HealthSnapshot()
		logger.Debug("host health at reply", "pressure", snap.Pressure.String(), "cpu_percent", snap.CPUPercent)
		sessionCloser.Close()
		sessionLog.Clear(channelID)
	case err := <-errCh:
		logger.Error("request failed", "error", err)
		os.Exit(1)
	case <-time.After(30 * time.Second):
		logger.Error("request timed out waiting for response")
		os.Exit(1)
	case <-ctx.Done():
		os.Exit(1)
	}

	runCancel()
	<-runDone
}
