package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/theckman/yacspin"

	"github.com/qnngroup/qnnlab/config"
	"github.com/qnngroup/qnnlab/instruments"
	"github.com/qnngroup/qnnlab/sweep"
)

// Version is the version number.  Typically injected via ldflags with git build
var Version = "1"

func root() {
	str := `qnnlab runs measurement recipes against the instruments named in a
config file and saves the results as .mat files.

Usage:
	qnnlab [flags] <command>

Commands:
	iv          I-V curve
	counts      photon counts versus bias
	trigger     counts over a grid of trigger levels and biases
	s21         resonator transmission versus power
	traces      single shot pulse traces
	screenshot  save a PNG of the scope screen
	idn         identify every configured instrument
	mkconf      write a config file with the defaults
	conf        print the config in use
	version

Flags:`
	fmt.Fprintln(flag.CommandLine.Output(), str)
	flag.PrintDefaults()
}

func setupLogging(level string) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	return nil
}

// isTerminal reports whether f is a character device
func isTerminal(f *os.File) bool {
	st, err := f.Stat()
	return err == nil && st.Mode()&os.ModeCharDevice != 0
}

// newSpinner returns a started spinner, or nil when stderr is not a terminal
func newSpinner(msg string) *yacspin.Spinner {
	if !isTerminal(os.Stderr) {
		return nil
	}
	spinner, err := yacspin.New(yacspin.Config{
		Writer:            os.Stderr,
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " ",
		SuffixAutoColon:   true,
		Message:           msg,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		log.Debug().Err(err).Msg("no spinner")
		return nil
	}
	if err := spinner.Start(); err != nil {
		log.Debug().Err(err).Msg("no spinner")
		return nil
	}
	return spinner
}

func mkconf(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s exists, not overwriting", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := config.Defaults().WriteYAML(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func identify(ctx context.Context, cfg config.Config) error {
	set, err := instruments.Open(ctx, cfg, instruments.Options{})
	if set == nil {
		return err
	}
	defer set.Close()
	for _, role := range set.Roles() {
		dev, _ := set.Get(role)
		id, ok := dev.(instruments.Identifier)
		if !ok {
			fmt.Printf("%-12s (does not identify)\n", role)
			continue
		}
		idn, ierr := id.Identify()
		if ierr != nil {
			fmt.Printf("%-12s error: %v\n", role, ierr)
			continue
		}
		fmt.Printf("%-12s %s\n", role, idn)
	}
	return err
}

func screenshot(ctx context.Context, cfg config.Config) error {
	set, err := instruments.Open(ctx, cfg, instruments.Options{})
	if set == nil {
		return err
	}
	defer set.Close()
	path, err := saveScreenshot(set, cfg, time.Now())
	if err != nil {
		return err
	}
	log.Info().Str("file", path).Msg("saved")
	return nil
}

func measure(ctx context.Context, cfg config.Config, recipe string, opt sweep.Options, f formats) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	set, err := instruments.Open(ctx, cfg, instruments.Options{})
	if err != nil {
		// a recipe may not need the instruments that failed
		log.Warn().Err(err).Msg("some instruments did not connect")
	}
	defer func() {
		if err := set.Close(); err != nil {
			log.Error().Err(err).Msg("closing instruments")
		}
	}()

	spinner := newSpinner(recipe)
	if spinner != nil {
		opt.Progress = func(done, total int) {
			spinner.Message(fmt.Sprintf("%s %d/%d", recipe, done, total))
		}
	}
	_, err = runRecipe(ctx, set, cfg, recipe, opt, f)
	if spinner != nil {
		if err != nil {
			spinner.StopFailMessage(err.Error())
			spinner.StopFail()
		} else {
			spinner.Stop()
		}
	}
	return err
}

func run() error {
	var (
		cfgPath  = flag.String("config", config.DefaultFile, "config file")
		level    = flag.String("loglevel", "info", "log level: trace, debug, info, warn, error")
		mock     = flag.Bool("mock", false, "use simulated instruments")
		keepOn   = flag.Bool("continue", false, "record NaN for failed steps instead of stopping")
		writeCSV = flag.Bool("csv", false, "also save the columns as CSV")
		fits     = flag.Bool("fits", false, "also save 2-D results as FITS")
	)
	flag.Usage = root
	flag.Parse()
	if err := setupLogging(*level); err != nil {
		return err
	}
	if flag.NArg() != 1 {
		root()
		return nil
	}
	cmd := strings.ToLower(flag.Arg(0))
	switch cmd {
	case "version":
		fmt.Printf("qnnlab version %v\n", Version)
		return nil
	case "mkconf":
		return mkconf(*cfgPath)
	}

	cfg, err := config.Load(*cfgPath, cmd != "conf")
	if err != nil {
		return err
	}
	if *mock {
		cfg.Mock = true
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch cmd {
	case "conf":
		return cfg.WriteYAML(os.Stdout)
	case "idn":
		return identify(ctx, cfg)
	case "screenshot":
		return screenshot(ctx, cfg)
	default:
		opt := sweep.Options{ContinueOnError: *keepOn}
		return measure(ctx, cfg, cmd, opt, formats{CSV: *writeCSV, FITS: *fits})
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("qnnlab")
	}
}
