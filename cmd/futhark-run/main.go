package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/futhark-host/config"
	"github.com/wippyai/futhark-host/engine"
	"github.com/wippyai/futhark-host/runtime"
)

const (
	exitSuccess = 0
	exitError   = 1
)

var (
	configPath string
	cfg        *config.Config
	log        = zap.NewNop()
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitError)
	}
	os.Exit(exitSuccess)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "futhark-run",
		Short:         "Run compiled Futhark wasm programs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = log.Sync()
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file")

	root.AddCommand(
		newInspectCmd(),
		newRunCmd(),
		newEncodeCmd(),
		newDecodeCmd(),
		newInteractiveCmd(),
	)
	return root
}

// setup loads configuration and installs the logger in every package
// that logs.
func setup() error {
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}
	l, err := c.Logger()
	if err != nil {
		return err
	}
	cfg = c
	log = l
	engine.SetLogger(l.Named("engine"))
	runtime.SetLogger(l.Named("runtime"))
	return nil
}

// loadProgram creates a runtime from the configuration and loads one
// program. The returned function closes both.
func loadProgram(ctx context.Context, wasmPath, manifestPath string) (*runtime.Program, func(), error) {
	ec, err := cfg.EngineConfig()
	if err != nil {
		return nil, nil, err
	}
	rt, err := runtime.NewWithConfig(ctx, ec)
	if err != nil {
		return nil, nil, err
	}
	prog, err := rt.LoadFiles(ctx, wasmPath, manifestPath)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, nil, err
	}
	closeAll := func() {
		if err := prog.Close(ctx); err != nil {
			log.Warn("close program", zap.Error(err))
		}
		if err := rt.Close(ctx); err != nil {
			log.Warn("close runtime", zap.Error(err))
		}
	}
	return prog, closeAll, nil
}
