package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dunamismax/pixelpuzzle/internal/pipeline"
	"github.com/dunamismax/pixelpuzzle/internal/puzzle"
	"github.com/spf13/cobra"
)

type sliceOptions struct {
	source     string
	rows       int
	columns    int
	difficulty string
	mode       string
	shareBase  string
	tilesDir   string
	maxSource  int
	timeout    time.Duration
}

func newSliceCmd() *cobra.Command {
	opts := sliceOptions{}
	cfg := puzzle.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "slice",
		Short: "Slice an image and print its share token",
		Long: `Slice a local image or data URL into a puzzle and print the share token.

Examples:
  puzzlectl slice --source photo.jpg
  puzzlectl slice -s photo.png -r 2 -c 5 -d easy --share-base https://example.com/play
  puzzlectl slice -s photo.png --tiles ./tiles`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSlice(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.source, "source", "s", "", "Image path or data URL")
	cmd.Flags().IntVarP(&opts.rows, "rows", "r", cfg.Rows, "Grid rows")
	cmd.Flags().IntVarP(&opts.columns, "columns", "c", cfg.Columns, "Grid columns")
	cmd.Flags().StringVarP(&opts.difficulty, "difficulty", "d", string(cfg.Difficulty), "easy, medium or hard")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "drag", "Interaction mode stored in the token: drag or click")
	cmd.Flags().StringVar(&opts.shareBase, "share-base", "", "Print a full share URL on this base instead of the bare token")
	cmd.Flags().StringVar(&opts.tilesDir, "tiles", "", "Also write every tile as a PNG into this directory")
	cmd.Flags().IntVar(&opts.maxSource, "max-source-bytes", 25<<20, "Largest source image accepted")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Slicing timeout")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func runSlice(cmd *cobra.Command, opts sliceOptions) error {
	difficulty, err := puzzle.ParseDifficulty(opts.difficulty)
	if err != nil {
		return err
	}
	cfg := puzzle.Config{Rows: opts.rows, Columns: opts.columns, Difficulty: difficulty}
	if err := cfg.Validate(); err != nil {
		return err
	}
	mode, err := puzzle.ParseMode(opts.mode)
	if err != nil {
		return err
	}

	codec, err := newCodec(cmd)
	if err != nil {
		return err
	}
	defer codec.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	slicer := puzzle.NewSlicer(pipeline.NewSourceLoader(opts.maxSource, nil))
	set, err := slicer.Slice(ctx, opts.source, cfg)
	if err != nil {
		return err
	}
	defer set.Release()

	if opts.tilesDir != "" {
		if err := writeTiles(opts.tilesDir, set.Pieces()); err != nil {
			return err
		}
	}

	token, err := codec.Encode(set.Pieces(), cfg, mode)
	if err != nil {
		return err
	}
	if opts.shareBase != "" {
		shareURL, err := puzzle.ShareURL(opts.shareBase, token)
		if err != nil {
			return fmt.Errorf("build share url: %w", err)
		}
		token = shareURL
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
	return err
}

func writeTiles(dir string, pieces []puzzle.Piece) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create tiles dir: %w", err)
	}
	for _, p := range pieces {
		data, err := puzzle.DataURLBytes(p.ImageURL)
		if err != nil {
			return fmt.Errorf("piece %d: %w", p.ID, err)
		}
		name := filepath.Join(dir, fmt.Sprintf("tile_%03d.png", p.ID))
		if err := os.WriteFile(name, data, 0o644); err != nil {
			return fmt.Errorf("write tile: %w", err)
		}
	}
	return nil
}
