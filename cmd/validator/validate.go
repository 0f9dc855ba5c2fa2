package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tliron/commonlog"

	"github.com/chazu/sanskrit/compiler"
	"github.com/chazu/sanskrit/config"
	"github.com/chazu/sanskrit/deploy"
	"github.com/chazu/sanskrit/linker"
	"github.com/chazu/sanskrit/runtime"
	"github.com/chazu/sanskrit/store"
)

func loadConfig(opts *options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.config != "" {
		cfg, err = config.Load(opts.config)
	} else {
		cfg, err = config.FindAndLoad(".")
	}
	if err != nil {
		return nil, err
	}
	if opts.db != "" {
		cfg.Store.Path = opts.db
	}
	if opts.verbosity >= 0 {
		cfg.Log.Verbosity = opts.verbosity
	}
	if opts.logFile != "" {
		cfg.Log.File = opts.logFile
	}
	return cfg, nil
}

type bundleInput struct {
	path   string
	bundle *runtime.Bundle
}

func run(ctx context.Context, out io.Writer, opts *options, paths []string) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	var logPath *string
	if cfg.Log.File != "" {
		logPath = &cfg.Log.File
	}
	commonlog.Configure(cfg.Log.Verbosity, logPath)

	backend, err := cfg.OpenBackend()
	if err != nil {
		return err
	}
	defer backend.Close()

	counting := store.NewCounting(store.NewStaged(backend))
	l := linker.New(counting, cfg.Limits.Depth)
	d := deploy.New(l, nil)

	failed := 0
	for _, path := range opts.deps {
		b, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(out, "%s: %v\n", path, err)
			failed++
			continue
		}
		h := d.AddOpenDependency(b)
		log.Debugf("%s: open dependency %s", path, h)
	}

	var bundles []bundleInput
	for _, path := range paths {
		b, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(out, "%s: %v\n", path, err)
			failed++
			continue
		}
		if len(b) > 0 && b[0] == runtime.BundleMagic {
			bundle, err := runtime.ParseBundle(b)
			if err != nil {
				fmt.Fprintf(out, "%s: %v\n", path, err)
				failed++
				continue
			}
			bundles = append(bundles, bundleInput{path: path, bundle: bundle})
			continue
		}

		counting.Reset()
		res, err := d.Deploy(b, opts.system)
		stats := counting.Reset()
		if err != nil {
			fmt.Fprintf(out, "%s: %v\n", path, err)
			failed++
			continue
		}
		state := "ok"
		if res.Existed {
			state = "present"
		}
		fmt.Fprintf(out, "%s: %s %s %s (bytes processed %d, stored %d, loaded %d)\n",
			path, res.Kind, res.Hash, state, len(b), stats.Stored, stats.Loaded)
	}

	if len(bundles) > 0 {
		n, err := execute(ctx, out, opts, cfg, l, backend, bundles)
		if err != nil {
			return err
		}
		failed += n
	}
	if failed > 0 {
		return statusError{failed: failed}
	}
	return nil
}

// execute runs the bundles concurrently and prints one line per section.
// It returns the number of bundles with an aborted section.
func execute(ctx context.Context, out io.Writer, opts *options, cfg *config.Config, l *linker.Linker, backend store.Backend, inputs []bundleInput) (int, error) {
	reg := prometheus.NewRegistry()
	metrics, err := runtime.NewMetrics(reg)
	if err != nil {
		return 0, err
	}
	cache := compiler.NewCache(compiler.New(l, nil, cfg.Schedule()))
	x := runtime.NewExecutor(cache, backend, runtime.Options{
		Limits:     cfg.VMLimits(),
		Depth:      cfg.Limits.Depth,
		SectionGas: cfg.Execution.SectionGas,
		Metrics:    metrics,
	})

	bundles := make([]*runtime.Bundle, len(inputs))
	for i, in := range inputs {
		bundles[i] = in.bundle
	}
	results, runErr := x.ExecuteParallel(ctx, bundles, cfg.Execution.ParallelBundles)

	failed := 0
	for i, res := range results {
		path := inputs[i].path
		if res == nil {
			fmt.Fprintf(out, "%s: not executed: %v\n", path, runErr)
			failed++
			continue
		}
		for j, s := range res.Sections {
			if s.Committed {
				fmt.Fprintf(out, "%s: bundle %s section %d committed (%d txs, gas %d, %d logs)\n",
					path, res.Hash.Short(), j, s.Txs, s.GasUsed, len(s.Logs))
			} else {
				fmt.Fprintf(out, "%s: bundle %s section %d aborted (gas %d): %v\n",
					path, res.Hash.Short(), j, s.GasUsed, s.Err)
			}
		}
		if !res.Committed() || len(res.Sections) < len(bundles[i].Sections) {
			failed++
		}
	}
	if opts.metrics {
		if err := printMetrics(out, reg); err != nil {
			return failed, err
		}
	}
	return failed, nil
}

// printMetrics writes one line per counter and histogram series.
func printMetrics(out io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			name := mf.GetName()
			for _, lp := range m.GetLabel() {
				name += fmt.Sprintf("{%s=%q}", lp.GetName(), lp.GetValue())
			}
			switch {
			case m.GetCounter() != nil:
				fmt.Fprintf(out, "%s %g\n", name, m.GetCounter().GetValue())
			case m.GetHistogram() != nil:
				h := m.GetHistogram()
				fmt.Fprintf(out, "%s count=%d sum=%g\n", name, h.GetSampleCount(), h.GetSampleSum())
			}
		}
	}
	return nil
}
