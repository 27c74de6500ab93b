/*
Copyright 2025 The Crossplane Authors.
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at
    http://www.apache.org/licenses/LICENSE-2.0
Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/zapr"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/crossplane/component-runtime/pkg/component"
	"github.com/crossplane/component-runtime/pkg/declaration"
	"github.com/crossplane/component-runtime/pkg/logging"
	"github.com/crossplane/component-runtime/pkg/registry"
)

// office is used when no module directory is supplied.
const office = `
name: office
version: 1.0.0
components:
- name: printer
  implementation: printer
  references:
  - name: ink
    capability: Ink
    cardinality: 0..1
    policy: dynamic
    bind: setInk
    unbind: unsetInk
- name: cartridge
  implementation: cartridge
  mode: factory
  factory: cartridges
  provides: [Ink]
`

func main() {
	var (
		modulesDir     string
		debug          bool
		lockTimeout    time.Duration
		delayed        string
		metricsAddr    string
		defaultVersion string
	)

	pflag.StringVar(&modulesDir, "modules", "", "Directory of module descriptors. A built in office module is used if unset.")
	pflag.BoolVar(&debug, "debug", false, "Enable debug logging")
	pflag.DurationVar(&lockTimeout, "lock-timeout", component.DefaultLockTimeout, "How long to wait for a busy component. Zero waits indefinitely.")
	pflag.StringVar(&delayed, "delayed-activation", "lazy", "When delayed components activate: lazy or before-publish")
	pflag.StringVar(&metricsAddr, "metrics-bind-address", "", "Serve metrics on this address after the demo runs, until interrupted")
	pflag.StringVar(&defaultVersion, "default-version", "0.0.0", "Version of modules whose descriptor declares none")
	pflag.Parse()

	level := zapcore.InfoLevel
	if debug {
		// logr's V(1) is zap's debug level.
		level = zapcore.DebugLevel
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	zl, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot build logger: %v\n", err)
		os.Exit(1)
	}
	defer zl.Sync() //nolint:errcheck // Nothing to do if this fails.
	setupLog := zapr.NewLogger(zl).WithName("setup")
	log := logging.NewLogrLogger(zapr.NewLogger(zl).WithName("component-runtime"))

	mode := component.LazyActivation
	switch delayed {
	case "lazy":
	case "before-publish":
		mode = component.ActivateBeforePublish
	default:
		setupLog.Error(errors.Errorf("unknown delayed activation mode %q", delayed), "invalid flags")
		os.Exit(1)
	}

	modules, err := loadModules(modulesDir, declaration.WithDefaultVersion(defaultVersion))
	if err != nil {
		setupLog.Error(err, "cannot load module descriptors")
		os.Exit(1)
	}

	metrics := component.NewMetrics()
	reg := registry.NewMemory(registry.WithLogger(log.WithValues("registry", "memory")))
	rt := component.New(reg, demoTypes(log),
		component.WithLogger(log),
		component.WithMetrics(metrics),
		component.WithLockTimeout(lockTimeout),
		component.WithDelayedActivation(mode),
		component.WithStateObserver(func(sc component.StateChange) {
			log.Debug("State changed", "module", sc.Module, "instance", sc.Instance, "from", sc.From.String(), "to", sc.To.String())
		}),
	)

	if err := declaration.Start(rt, modules); err != nil {
		setupLog.Error(err, "cannot start modules")
		os.Exit(1)
	}
	if _, ok := rt.Declaration("office", "cartridge"); ok {
		if err := runOffice(rt, reg, log); err != nil {
			setupLog.Error(err, "office demo failed")
			os.Exit(1)
		}
	}
	report(rt, log)

	if metricsAddr != "" {
		if err := serveMetrics(metricsAddr, metrics); err != nil {
			setupLog.Error(err, "cannot serve metrics")
			os.Exit(1)
		}
	}

	for i := len(modules) - 1; i >= 0; i-- {
		if err := rt.OnModuleStopped(modules[i].Name); err != nil {
			setupLog.Error(err, "cannot stop module", "module", modules[i].Name)
		}
	}
}

func loadModules(dir string, o ...declaration.Option) ([]declaration.ModuleDescriptor, error) {
	if dir == "" {
		d, err := declaration.Parse([]byte(office), o...)
		return []declaration.ModuleDescriptor{d}, err
	}
	return declaration.LoadDir(afero.NewOsFs(), dir, o...)
}

// runOffice inserts ink cartridges into the office printer one at a time,
// refills one from outside the runtime, then removes them again.
func runOffice(rt *component.Runtime, reg registry.Registry, log logging.Logger) error {
	black, err := rt.CreateFactoryInstance("cartridges", component.Properties{"color": "black"})
	if err != nil {
		return errors.Wrap(err, "cannot insert black cartridge")
	}
	cyan, err := rt.CreateFactoryInstance("cartridges", component.Properties{"color": "cyan", registry.PropertyRanking: 10})
	if err != nil {
		return errors.Wrap(err, "cannot insert cyan cartridge")
	}
	log.Info("Inserted cartridges", "black", black.ID(), "cyan", cyan.ID())

	// A refill published outside the runtime outranks the cartridges once
	// patched.
	refill, err := reg.Publish([]string{"Ink"}, registry.Properties{"color": "magenta"}, &cartridge{color: "magenta"})
	if err != nil {
		return errors.Wrap(err, "cannot publish refill")
	}
	if err := refill.Patch([]byte(`{"service.ranking": 20}`)); err != nil {
		return errors.Wrap(err, "cannot rank refill")
	}
	if err := refill.Unpublish(); err != nil {
		return errors.Wrap(err, "cannot remove refill")
	}

	if err := cyan.Dispose(); err != nil {
		return errors.Wrap(err, "cannot remove cyan cartridge")
	}
	return errors.Wrap(black.Dispose(), "cannot remove black cartridge")
}

func report(rt *component.Runtime, log logging.Logger) {
	for _, d := range rt.Declarations() {
		s := d.Status()
		kv := []any{"module", d.Module().String(), "component", d.Name(), "enabled", s.Enabled, "satisfied", s.Satisfied, "instances", s.Instances}
		if s.LastError != nil {
			kv = append(kv, "last-error", s.LastError.Error())
		}
		log.Info("Component status", kv...)
	}
}

func serveMetrics(addr string, m *component.Metrics) error {
	r := prometheus.NewRegistry()
	if err := r.Register(m); err != nil {
		return errors.Wrap(err, "cannot register metrics")
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(r, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
