package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/qnngroup/qnnlab/config"
	"github.com/qnngroup/qnnlab/instruments"
	"github.com/qnngroup/qnnlab/server"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = config.DefaultFile
)

func root() {
	str := `qnnserver communicates with lab hardware and exposes an HTTP interface to them
This enables a server-client architecture, and the clients can leverage the
excellent HTTP libraries for any programming language.

Usage:
	qnnserver <command> [config]

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `qnnserver is amenable to configuration via its .yml file, the same file
qnnlab reads.  For a primer on YAML, see https://yaml.org/start.html

Each instrument role in the file (Source, Meter, Counter, Attenuator, Scope,
AWG, VNA, Temperature) is served under its lowercased name, e.g. /source/voltage.
GET /endpoints lists every route.  POST {"bool": true} to /<role>/lock to
lock a role; locked roles answer 423.

Set Mock: true to serve simulated instruments.

Hardware and matching "name" fields, case insensitive:`
	fmt.Println(str)
	for _, name := range instruments.Types() {
		t, _ := instruments.Lookup(name)
		fmt.Printf("- %s %q, roles %s\n", t.Name, t.Aliases, strings.Join(t.Roles, ", "))
	}
}

func mkconf() error {
	f, err := os.Create(ConfigFileName)
	if err != nil {
		return err
	}
	defer f.Close()
	return config.Defaults().WriteYAML(f)
}

func printconf() error {
	c, err := config.Load(ConfigFileName, false)
	if err != nil {
		return err
	}
	return c.WriteYAML(os.Stdout)
}

func run() error {
	c, err := config.Load(ConfigFileName, true)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	set, err := instruments.Open(ctx, c, instruments.Options{})
	if err != nil {
		log.Warn().Err(err).Msg("serving the instruments that connected")
	}
	defer set.Close()
	if len(set.Roles()) == 0 {
		return fmt.Errorf("no instruments to serve")
	}

	srv := &http.Server{Addr: c.Addr, Handler: server.BuildMux(set)}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()
	log.Info().Str("addr", c.Addr).Msg("now listening for requests")
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	if len(args) > 2 {
		ConfigFileName = args[2]
	}
	var err error
	switch strings.ToLower(args[1]) {
	case "help":
		help()
	case "mkconf":
		err = mkconf()
	case "conf":
		err = printconf()
	case "run":
		err = run()
	case "version":
		fmt.Printf("qnnserver version %v\n", Version)
	default:
		err = fmt.Errorf("unknown command %q", args[1])
	}
	if err != nil {
		log.Fatal().Err(err).Msg("qnnserver")
	}
}
