package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lucasmv/chatvault/internal/config"
	"github.com/lucasmv/chatvault/internal/daemon"
	"github.com/lucasmv/chatvault/internal/transcript"
	"go.uber.org/fx"
)

func main() {
	configFlag := flag.String("config", "", "path to chatvault.toml (default: <data dir>/chatvault.toml)")
	flag.Parse()

	cfg, err := loadConfig(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			Config:   cfg,
			Collator: transcript.PlainText(),
		}),
	)

	app.Run()
}

// loadConfig reads the config file when one exists; a missing default config
// file just means defaults.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = filepath.Join(config.Default().DataDir, "chatvault.toml")
		if _, err := os.Stat(path); err != nil {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}
