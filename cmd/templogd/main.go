// templogd reads the thermometer named in a config file at a fixed interval,
// appends each reading to a CSV log and serves the recent history over HTTP.
//
// Usage:
//
//	templogd <loglevel> [config]
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/qnngroup/qnnlab/config"
	"github.com/qnngroup/qnnlab/datafile"
	"github.com/qnngroup/qnnlab/envsrv"
	"github.com/qnngroup/qnnlab/instruments"
	"github.com/qnngroup/qnnlab/sweep"
)

func run(level, cfgPath string) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load(cfgPath, true)
	if err != nil {
		return err
	}
	p := cfg.TempLog
	// only the thermometer is opened
	set, err := instruments.Open(context.Background(), config.Config{Mock: cfg.Mock, Temperature: cfg.Temperature}, instruments.Options{Strict: true})
	if err != nil {
		return err
	}
	defer set.Close()
	therm, err := set.Thermometer()
	if err != nil {
		return err
	}
	out, err := datafile.OpenLog(p.File, sweep.TemperatureHeader(p), p.FlushEvery)
	if err != nil {
		return errors.Wrapf(err, "opening %s", p.File)
	}
	defer out.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	hist := envsrv.NewHistory(p.History)
	srv := &http.Server{Addr: p.Addr, Handler: envsrv.BuildMux(hist)}
	go func() {
		log.Info().Str("addr", p.Addr).Msg("now listening for requests")
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server")
			stop()
		}
	}()
	defer srv.Close()
	return sweep.TemperatureLog(ctx, therm, p, out, hist)
}

func main() {
	if len(os.Args) < 2 || os.Args[1] == "help" {
		fmt.Println("Usage: templogd <loglevel> [config]")
		return
	}
	cfgPath := config.DefaultFile
	if len(os.Args) > 2 {
		cfgPath = os.Args[2]
	}
	if err := run(os.Args[1], cfgPath); err != nil {
		log.Fatal().Err(err).Msg("templogd")
	}
}
