package main

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v2"

	"github.com/qnngroup/qnnlab/config"
	"github.com/qnngroup/qnnlab/instruments"
	"github.com/qnngroup/qnnlab/sweep"
)

// recipeFunc runs one recipe against the instruments of a Set
type recipeFunc func(ctx context.Context, set *instruments.Set, cfg config.Config, opt sweep.Options) (*sweep.Result, error)

var recipes = map[string]recipeFunc{
	"iv": func(ctx context.Context, set *instruments.Set, cfg config.Config, opt sweep.Options) (*sweep.Result, error) {
		src, err := set.Source()
		if err != nil {
			return nil, err
		}
		meter, err := set.Meter()
		if err != nil {
			return nil, err
		}
		return sweep.IVSweep(ctx, src, meter, cfg.IV, opt)
	},
	"counts": func(ctx context.Context, set *instruments.Set, cfg config.Config, opt sweep.Options) (*sweep.Result, error) {
		src, err := set.Source()
		if err != nil {
			return nil, err
		}
		counter, err := set.Counter()
		if err != nil {
			return nil, err
		}
		// the attenuator is only required for dark counts
		atten, err := set.Attenuator()
		if err != nil && !errors.Is(err, instruments.ErrRoleMissing) {
			return nil, err
		}
		return sweep.PhotonCounts(ctx, src, counter, atten, cfg.Counts, opt)
	},
	"trigger": func(ctx context.Context, set *instruments.Set, cfg config.Config, opt sweep.Options) (*sweep.Result, error) {
		src, err := set.Source()
		if err != nil {
			return nil, err
		}
		counter, err := set.Counter()
		if err != nil {
			return nil, err
		}
		return sweep.TriggerSweep(ctx, src, counter, cfg.Trigger, opt)
	},
	"s21": func(ctx context.Context, set *instruments.Set, cfg config.Config, opt sweep.Options) (*sweep.Result, error) {
		vna, err := set.VNA()
		if err != nil {
			return nil, err
		}
		return sweep.S21Sweep(ctx, vna, cfg.S21, opt)
	},
	"traces": func(ctx context.Context, set *instruments.Set, cfg config.Config, opt sweep.Options) (*sweep.Result, error) {
		scope, err := set.Scope()
		if err != nil {
			return nil, err
		}
		src, err := set.Source()
		if err != nil && !errors.Is(err, instruments.ErrRoleMissing) {
			return nil, err
		}
		awg, err := set.AWG()
		if err != nil && !errors.Is(err, instruments.ErrRoleMissing) {
			return nil, err
		}
		return sweep.PulseTraces(ctx, src, scope, awg, cfg.Traces, opt)
	},
}

func recipeNames() []string {
	names := make([]string, 0, len(recipes))
	for k := range recipes {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// formats selects the files a result is saved as
type formats struct {
	CSV  bool
	FITS bool
}

// parameterDump is the human readable record of how a result was taken
type parameterDump struct {
	Recipe     string                 `yaml:"Recipe"`
	Started    string                 `yaml:"Started"`
	User       string                 `yaml:"User,omitempty"`
	SaveFile   map[string]string      `yaml:"Save File,omitempty"`
	Parameters map[string]interface{} `yaml:"Parameters"`
}

// describe copies the save file block, the user and the recipe's settings
// into res
func describe(res *sweep.Result, cfg config.Config) (map[string]interface{}, error) {
	params, err := cfg.Parameters(res.Recipe)
	if err != nil {
		return nil, err
	}
	res.SetParameters(params)
	for k, v := range cfg.SaveFile {
		res.Describe(k, v)
	}
	if cfg.User != "" {
		res.Describe("user", cfg.User)
	}
	return params, nil
}

// writeParameters dumps the settings of res to <dir>/<name>_parameters.txt
func writeParameters(res *sweep.Result, cfg config.Config, params map[string]interface{}, dir, name string) (string, error) {
	b, err := yaml.Marshal(parameterDump{
		Recipe:     res.Recipe,
		Started:    res.Started.Format(time.RFC3339),
		User:       cfg.User,
		SaveFile:   cfg.SaveFile,
		Parameters: params,
	})
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, name+"_parameters.txt")
	return path, os.WriteFile(path, b, 0644)
}

// save writes res next to the name cfg.FileName picks for it and returns
// the paths written
func save(res *sweep.Result, cfg config.Config, f formats) ([]string, error) {
	params, err := describe(res, cfg)
	if err != nil {
		return nil, err
	}
	base := cfg.FileName(res.Recipe, res.Started)
	dir, name := filepath.Split(base)
	if dir == "" {
		dir = "."
	}
	path, err := res.Save(dir, name)
	if err != nil {
		return nil, err
	}
	paths := []string{path}
	p, err := writeParameters(res, cfg, params, dir, name)
	if err != nil {
		return paths, err
	}
	paths = append(paths, p)
	if f.CSV {
		p, err := res.SaveCSV(dir, name)
		if err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	if f.FITS && len(res.Grids) > 0 {
		ps, err := res.SaveFITS(dir, name)
		paths = append(paths, ps...)
		if err != nil {
			return paths, err
		}
	}
	return paths, nil
}

// hasData reports whether a result holds anything worth saving
func hasData(res *sweep.Result) bool {
	if res == nil {
		return false
	}
	for _, c := range res.Columns {
		if len(c) > 0 {
			return true
		}
	}
	return len(res.Grids) > 0
}

// runRecipe runs recipe name and saves what it produced, including the
// partial result of a failed or canceled run
func runRecipe(ctx context.Context, set *instruments.Set, cfg config.Config, name string, opt sweep.Options, f formats) ([]string, error) {
	fn, ok := recipes[strings.ToLower(name)]
	if !ok {
		return nil, errors.Errorf("unknown recipe %q, expected one of %s", name, strings.Join(recipeNames(), ", "))
	}
	res, err := fn(ctx, set, cfg, opt)
	if !hasData(res) {
		return nil, err
	}
	paths, serr := save(res, cfg, f)
	if serr != nil {
		log.Error().Err(serr).Msg("saving result")
		if err == nil {
			err = serr
		}
	}
	for _, p := range paths {
		log.Info().Str("file", p).Msg("saved")
	}
	return paths, err
}

// saveScreenshot writes a hardcopy of the scope screen next to the results
// and returns its path
func saveScreenshot(set *instruments.Set, cfg config.Config, now time.Time) (string, error) {
	scope, err := set.Scope()
	if err != nil {
		return "", err
	}
	sc, ok := scope.(instruments.Screenshotter)
	if !ok {
		return "", errors.Errorf("%T cannot take screenshots", scope)
	}
	path := cfg.FileName("Screenshot", now) + ".png"
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := sc.Screenshot(f); err != nil {
		f.Close()
		os.Remove(path)
		return "", errors.Wrap(err, "screenshot")
	}
	return path, f.Close()
}
