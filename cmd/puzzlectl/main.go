package main

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/dunamismax/pixelpuzzle/internal/puzzle"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "puzzlectl",
		Short: "Slice images into puzzles and inspect share links",
		Long: `puzzlectl works with pixelpuzzle share tokens offline.

Examples:
  puzzlectl slice --source photo.jpg --rows 4 --columns 6 --difficulty hard
  puzzlectl decode 'http://localhost:8080/play?puzzleData=KLUv_...'
  puzzlectl capture --format jpg --out ./captures < token.txt`,
		SilenceUsage: true,
	}
	root.PersistentFlags().Int("max-token-bytes", puzzle.DefaultMaxTokenBytes, "Largest share token accepted or produced")

	root.AddCommand(newSliceCmd(), newDecodeCmd(), newCaptureCmd())
	return root
}

func newCodec(cmd *cobra.Command) (*puzzle.Codec, error) {
	maxBytes, err := cmd.Flags().GetInt("max-token-bytes")
	if err != nil {
		return nil, err
	}
	return puzzle.NewCodec(puzzle.WithMaxTokenBytes(maxBytes))
}

// readToken takes the token from args, or from stdin when the argument is
// missing or "-". A full share URL is accepted in place of a bare token.
func readToken(cmd *cobra.Command, args []string) (string, error) {
	var raw string
	if len(args) > 0 && args[0] != "-" {
		raw = args[0]
	} else {
		data, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), puzzle.DefaultMaxTokenBytes+1))
		if err != nil {
			return "", fmt.Errorf("read token from stdin: %w", err)
		}
		raw = string(data)
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("share token is required")
	}
	if strings.Contains(raw, puzzle.ParamPuzzleData+"=") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", fmt.Errorf("parse share url: %w", err)
		}
		if token := u.Query().Get(puzzle.ParamPuzzleData); token != "" {
			return token, nil
		}
	}
	return raw, nil
}
