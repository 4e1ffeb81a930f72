// Command chessd serves browser chess games against local UCI engines.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/park285/Cheese-WebChess/internal/config"
	"github.com/park285/Cheese-WebChess/internal/obslog"
)

// Build information injected via ldflags.
var (
	version = "dev"
	commit  = "none"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chessd",
		Short:         "Play chess in the browser against a UCI engine",
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	root.AddCommand(newServeCmd(), newProbeCmd(), newBookCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "chessd:", err)
		os.Exit(1)
	}
}

// setup loads the configuration and installs the process logger.
func setup() (*config.AppConfig, *zap.Logger, error) {
	logger, err := obslog.Init(obslog.OptionsFromEnv(os.Getenv))
	if err != nil {
		return nil, nil, fmt.Errorf("init logging: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, logger, fmt.Errorf("load config: %w", err)
	}
	return cfg, logger, nil
}

func pick(names []string, filter string) []string {
	if strings.TrimSpace(filter) == "" {
		return names
	}
	for _, n := range names {
		if strings.EqualFold(n, filter) {
			return []string{n}
		}
	}
	return nil
}
