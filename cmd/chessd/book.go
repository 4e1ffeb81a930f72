package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/park285/Cheese-WebChess/internal/chess/openingbook"
)

func newBookCmd() *cobra.Command {
	var moves []string
	cmd := &cobra.Command{
		Use:   "book <file> [fen]",
		Short: "List polyglot book entries for a position",
		Long: `List the entries a polyglot opening book holds for a position.

The position defaults to the initial one. --moves plays coordinate moves
from it first.

Examples:
  chessd book engines/opening-books/gm2001.bin
  chessd book gm2001.bin --moves e2e4,c7c5
  chessd book gm2001.bin "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1"`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			book, err := openingbook.Open(args[0])
			if err != nil {
				return err
			}
			fen := "startpos"
			if len(args) == 2 {
				fen = args[1]
			}
			entries, err := book.Entries(fen, moves)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "no entries")
				return nil
			}
			if code, title := openingbook.OpeningName(moves); code != "" && fen == "startpos" {
				fmt.Fprintf(out, "%s %s\n", code, title)
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MOVE\tSAN\tWEIGHT")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%d\n", e.Move, strings.TrimSpace(e.SAN), e.Weight)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringSliceVar(&moves, "moves", nil, "coordinate moves to play before the lookup")
	return cmd
}
