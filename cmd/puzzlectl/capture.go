package main

import (
	"fmt"

	"github.com/dunamismax/pixelpuzzle/internal/id"
	"github.com/dunamismax/pixelpuzzle/internal/pipeline"
	"github.com/spf13/cobra"
)

func newCaptureCmd() *cobra.Command {
	var (
		req    pipeline.CaptureRequest
		outDir string
	)

	cmd := &cobra.Command{
		Use:   "capture [token|url|-]",
		Short: "Render a share token to an image file",
		Long: `Render the puzzle held by a share token, with every piece at its current
position, and write it into the output directory.

Examples:
  puzzlectl capture "$TOKEN" --format jpg --caption "almost there"
  puzzlectl capture - --background "#202830" --guide < token.txt`,
		Args: cobra.MaximumNArgs(1),
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

			if err := pipeline.Startup(pipeline.RuntimeConfig{}); err != nil {
				return fmt.Errorf("image runtime startup: %w", err)
			}
			defer pipeline.Shutdown()

			processor, err := pipeline.NewLocalProcessor(codec, outDir)
			if err != nil {
				return err
			}
			req.Token = token
			if req.JobID == "" {
				req.JobID = id.New("cap")
			}

			result, err := processor.Capture(cmd.Context(), req)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %dx%d pieces=%d solved=%t\n",
				result.Output.Path, result.Output.Width, result.Output.Height, result.Pieces, result.Solved)
			return err
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "Output directory")
	cmd.Flags().StringVar(&req.JobID, "name", "", "Output file name without extension (default: generated)")
	cmd.Flags().StringVarP(&req.Format, "format", "f", "png", "png, jpg or webp")
	cmd.Flags().IntVarP(&req.Quality, "quality", "q", 0, "JPEG/WebP quality 1-100 (0 uses the encoder default)")
	cmd.Flags().StringVar(&req.Caption, "caption", "", "Caption drawn along the bottom edge")
	cmd.Flags().StringVar(&req.Background, "background", "", "Canvas color as #rrggbb (default transparent)")
	cmd.Flags().BoolVar(&req.Guide, "guide", false, "Draw a faint blurred copy of the solved image under the pieces")
	return cmd
}
