// Command lswasm serves HTTP through a chain of proxy-wasm filter
// modules.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lswasm/lswasm/config"
	"github.com/lswasm/lswasm/filter"
	"github.com/lswasm/lswasm/registry"
	"github.com/lswasm/lswasm/server"
	"github.com/lswasm/lswasm/vm"
)

// stringList collects repeatable flags.
type stringList []string

func (l *stringList) String() string {
	return strings.Join(*l, ",")
}

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		port       = flag.Int("port", 0, "TCP listen port")
		uds        = flag.String("uds", "", "Unix domain socket path (takes effect over --port)")
		configPath = flag.String("config", "", "Path to lswasm.toml")
		maxRequest = flag.Int("max-request-bytes", 0, "Maximum buffered header bytes per request")
		logLevel   = flag.String("log-level", "", "Log level (debug, info, warn, error)")
		modules    stringList
		envPairs   stringList
	)
	flag.Var(&modules, "module", "Filter module to load at startup: path or name=path (repeatable)")
	flag.Var(&envPairs, "env", "KEY=VALUE exposed to filters (repeatable)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		cfg = loaded
	}

	// Flags override the file.
	overrides := config.Overrides{
		Port:            *port,
		UDS:             *uds,
		MaxRequestBytes: *maxRequest,
		LogLevel:        *logLevel,
		Env:             make(map[string]string),
	}
	for _, m := range modules {
		name, path := splitModuleArg(m)
		overrides.Modules = append(overrides.Modules, config.Module{Name: name, Path: path})
	}
	for _, kv := range envPairs {
		key, value, found := strings.Cut(kv, "=")
		if !found {
			fmt.Fprintf(os.Stderr, "Error: --env expects KEY=VALUE, got %q\n", kv)
			return 1
		}
		overrides.Env[key] = value
	}
	cfg = cfg.Apply(overrides)

	logger, err := buildLogger(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx := context.Background()

	reg := registry.New(vm.NewZapHost(logger), logger, registry.WithEnv(cfg.Env))
	defer reg.Close(ctx)

	for _, m := range cfg.Modules {
		if err := reg.LoadFile(ctx, m.Name, m.Path); err != nil {
			logger.Error("load module", zap.String("module", m.Name), zap.Error(err))
			return 1
		}
	}

	var ids filter.ContextIDs
	chain := filter.NewChain(reg, &ids, logger)

	var lfd int
	if cfg.Listen.UDS != "" {
		lfd, err = server.ListenUnix(cfg.Listen.UDS)
		defer os.Remove(cfg.Listen.UDS)
	} else {
		lfd, err = server.ListenTCP(cfg.Listen.Port)
	}
	if err != nil {
		logger.Error("listen", zap.Error(err))
		return 1
	}

	srv := server.New(lfd, chain, server.Config{MaxRequestBytes: cfg.Limits.MaxRequestBytes}, logger)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		logger.Info("shutting down", zap.String("signal", sig.String()))
		srv.Shutdown()
	}()

	if cfg.Listen.UDS != "" {
		logger.Info("listening", zap.String("uds", cfg.Listen.UDS), zap.Strings("modules", reg.List()))
	} else {
		logger.Info("listening", zap.Int("port", cfg.Listen.Port), zap.Strings("modules", reg.List()))
	}

	if err := srv.Serve(ctx); err != nil {
		logger.Error("serve", zap.Error(err))
		return 1
	}
	return 0
}

// splitModuleArg parses a --module value: "name=path" or a bare path
// whose file stem becomes the name.
func splitModuleArg(arg string) (name, path string) {
	if n, p, found := strings.Cut(arg, "="); found {
		return n, p
	}
	base := filepath.Base(arg)
	return strings.TrimSuffix(base, filepath.Ext(base)), arg
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
