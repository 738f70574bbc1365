package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/omnibridge/bridge-runtime/pkg/app"
	"github.com/omnibridge/bridge-runtime/pkg/app/relayer"
	"github.com/omnibridge/bridge-runtime/pkg/config"
)

var configPath = flag.String("config", "config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var runner app.Runner = relayer.NewServer(cfg)
	if err := runner.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Bridge runtime exited with error: %v\n", err)
		os.Exit(1)
	}
}
