package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"leader-elector/server"
	"leader-elector/utils"
)

var (
	debug      = flag.Bool("debug", true, "to enable debug level logging")
	configFile = flag.String("config", "config.json", "config used for the leader elector")
)

func init() {
	flag.Parse()
	// setup logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Str("component", "leader-elector").Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if *configFile == "" {
		log.Fatal().Msg("requires a config file...unable to run application")
	}
}

func main() {
	//load config
	config, err := utils.LoadConfig(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config file")
	}
	log.Info().Str("identity", config.Identity).Str("backend", config.Store.Backend).
		Str("lock", config.Lock.Type+"/"+config.Lock.Namespace+"/"+config.Lock.Name).Msg("loaded config")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := server.NewServer(ctx, config, reg)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to create a server")
	}

	errChan := srv.RunAsync(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("signal received...exiting")
	case err := <-errChan:
		log.Error().Err(err).Msg("Failed to run the server")
	}

	// step down before exiting so the lease is released when configured
	cancel()
	<-srv.Done()
}
