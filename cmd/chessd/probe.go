package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/park285/Cheese-WebChess/internal/chess"
	"github.com/park285/Cheese-WebChess/internal/chess/uci"
)

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe [engine]",
		Short: "Start each configured engine, print what it reports and quit",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			reg, err := chess.NewRegistry(cfg.Engines, cfg.DefaultEngine)
			if err != nil {
				return err
			}
			filter := ""
			if len(args) == 1 {
				filter = args[0]
			}
			names := pick(reg.Names(), filter)
			if len(names) == 0 {
				return fmt.Errorf("%w: %q", chess.ErrUnknownEngine, filter)
			}

			budget := chess.SearchBudget{ThinkTime: cfg.ThinkTimeDefault, DepthCap: cfg.SearchDepthCap}
			var errs []error
			for _, name := range names {
				profile, _ := reg.Get(name)
				if err := probe(cmd, profile, budget, cfg.HandshakeTimeout, logger); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", name, err))
				}
			}
			return errors.Join(errs...)
		},
	}
}

// probe starts one engine, prints its identity and the go command a default
// move would send, then checks it still answers isready.
func probe(cmd *cobra.Command, p chess.EngineProfile, budget chess.SearchBudget, timeout time.Duration, logger *zap.Logger) error {
	goCmd, err := budget.GoCommand()
	if err != nil {
		return err
	}
	proc, err := uci.Start(cmd.Context(), uci.Config{
		Path:             p.Path,
		Args:             p.Args,
		Env:              p.Env,
		Dir:              p.Dir,
		Options:          p.Options,
		HandshakeTimeout: timeout,
		Logger:           logger.With(zap.String("engine", p.Name)),
	})
	if err != nil {
		return err
	}
	defer proc.Close()

	id := proc.ID()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\n  path:    %s\n  id:      %s\n  author:  %s\n", p.Name, p.Path, id.Name, id.Author)
	fmt.Fprintf(out, "  options: %d\n", len(id.Options))
	for _, o := range id.Options {
		fmt.Fprintf(out, "    %s\n", o)
	}
	fmt.Fprintf(out, "  search:  %s\n", goCmd)
	if err := proc.EnsureReady(cmd.Context()); err != nil {
		return fmt.Errorf("isready: %w", err)
	}
	fmt.Fprintln(out, "  ready:   ok")
	return nil
}
