package main

import (
	"encoding/json"
	"time"

	"github.com/dunamismax/pixelpuzzle/internal/puzzle"
	"github.com/spf13/cobra"
)

type decodedPiece struct {
	ID       int     `json:"id"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	CorrectX float64 `json:"correctX"`
	CorrectY float64 `json:"correctY"`
	Home     bool    `json:"home"`
	ImageURL string  `json:"imageUrl,omitempty"`
}

type decodedToken struct {
	Config   puzzle.Config  `json:"config"`
	Mode     puzzle.Mode    `json:"mode"`
	SharedAt *time.Time     `json:"shared_at,omitempty"`
	Solved   bool           `json:"solved"`
	Pieces   []decodedPiece `json:"pieces"`
}

func newDecodeCmd() *cobra.Command {
	var withImages bool

	cmd := &cobra.Command{
		Use:   "decode [token|url|-]",
		Short: "Print the puzzle held by a share token",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := readToken(cmd, args)
			if err != nil {
				return err
			}
			codec, err := newCodec(cmd)
			if err != nil {
				return err
			}
			defer codec.Close()

			data, err := codec.DecodeDetailed(token)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(describeToken(data, withImages))
		},
	}
	cmd.Flags().BoolVar(&withImages, "images", false, "Include tile data URLs in the output")
	return cmd
}

func describeToken(data puzzle.ShareableData, withImages bool) decodedToken {
	out := decodedToken{
		Config: data.Config,
		Mode:   data.Mode,
		Solved: puzzle.IsSolved(data.Pieces, puzzle.SolvedTolerance),
		Pieces: make([]decodedPiece, 0, len(data.Pieces)),
	}
	if data.Timestamp > 0 {
		sharedAt := time.UnixMilli(data.Timestamp).UTC()
		out.SharedAt = &sharedAt
	}
	for _, p := range data.Pieces {
		piece := decodedPiece{
			ID:       p.ID,
			X:        p.X,
			Y:        p.Y,
			Width:    p.Width,
			Height:   p.Height,
			CorrectX: p.CorrectX,
			CorrectY: p.CorrectY,
			Home:     puzzle.IsSolved([]puzzle.Piece{p}, puzzle.SolvedTolerance),
		}
		if withImages {
			piece.ImageURL = p.ImageURL
		}
		out.Pieces = append(out.Pieces, piece)
	}
	return out
}
