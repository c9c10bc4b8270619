// ============================================================================
// litewal - Main Entry Point
// ============================================================================
//
// File: cmd/litewal/main.go
// Purpose: Application entry point and CLI initialization
//
// Version Injection:
//   Variables injected at build time via -ldflags:
//   go build -ldflags "-X main.version=0.1.0 -X main.commit=abc123"
//
// Usage:
//   ./litewal --help                        # Show help
//   ./litewal replicate --db app.db         # Replicate a database's WAL
//   ./litewal restore --db app.db           # Restore the latest generation
//   ./litewal status                        # Show configuration and reachability
//
// ============================================================================

package main

import (
	"fmt"
	"os"

	"github.com/chuliyu/litewal/internal/cli"
)

// Build-time version injection via ldflags.
var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "Fatal error: %v\n", r)
			os.Exit(1)
		}
	}()

	rootCmd := cli.BuildCLI()
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
