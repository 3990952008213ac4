// Command sentineld is the long-running safety monitoring daemon. It owns the
// evidence store, capture loops, upload pipeline, and the control socket the
// sentinel CLI talks to. It is normally launched by `sentinel start` but can
// be run directly in the foreground.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"sentinel/internal/config"
	"sentinel/internal/daemonrun"
)

func main() {
	configPath := flag.String("config", "", "configuration file path")
	logLevel := flag.String("log-level", "", "log level override (debug, info, warn, error)")
	flag.Parse()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sentineld: load config: %v\n", err)
		os.Exit(1)
	}

	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{LogLevel: *logLevel}); err != nil {
		fmt.Fprintf(os.Stderr, "sentineld: %v\n", err)
		os.Exit(1)
	}
}
