package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/veliu/trackcache/internal/config"
	"github.com/veliu/trackcache/internal/engine"
	"github.com/veliu/trackcache/internal/tui"
)

func main() {
	settings, err := config.Load(config.DefaultConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Stderr would corrupt the alternate screen, so diagnostics are dropped.
	eng, err := engine.New(settings, zerolog.Nop(), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting engine: %v\n", err)
		os.Exit(1)
	}
	defer eng.Shutdown(context.Background())

	if err := tui.Run(eng); err != nil {
		fmt.Fprintf(os.Stderr, "Error running TUI: %v\n", err)
		os.Exit(1)
	}
}
