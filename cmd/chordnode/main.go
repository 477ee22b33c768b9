package main

import (
	"os"
	"os/signal"
	"syscall"

	"chordring/internal/config"
	"chordring/internal/node"
	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog"
)

type optsStruct struct {
	NodeID   string `long:"node-id" required:"true" description:"Unique node identifier, hashed into the ring"`
	Listen   string `long:"listen" default:"127.0.0.1:50051" description:"Address to listen on"`
	Peers    string `long:"peers" description:"Comma-separated peers: id1=addr1,id2=addr2"`
	Bits     uint   `long:"bits" default:"32" description:"Identifier width in bits (1-64)"`
	Hash     string `long:"hash" default:"sha1" choice:"sha1" choice:"sha256" choice:"md5" choice:"fnv32a" choice:"xxhash" choice:"murmur3" description:"Hash family"`
	LogLevel string `long:"log-level" default:"info" description:"Log level: debug, info, warn, error"`
}

var opts optsStruct
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	level, err := zerolog.ParseLevel(opts.LogLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid log level")
	}
	logger = logger.Level(level)

	peerList, err := config.ParsePeers(opts.Peers)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to parse peers")
	}

	cfg := &config.Config{
		NodeID:     opts.NodeID,
		ListenAddr: opts.Listen,
		Peers:      peerList,
		Bits:       opts.Bits,
		HashFamily: opts.Hash,
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	n, err := node.NewNode(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create node")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- n.Start()
	}()

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
		n.Stop()
	case err := <-errCh:
		if err != nil {
			logger.Fatal().Err(err).Msg("Node failed")
		}
	}
}
