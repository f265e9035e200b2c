package main

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-errors/errors"
	"github.com/spf13/cobra"

	"github.com/BeatGlow/kms"
	"github.com/BeatGlow/kms/draw"
)

var durationFlag time.Duration

var patternCmd = &cobra.Command{
	Use:   "pattern",
	Short: "show a test pattern",
	Long:  "show a labelled test pattern on every connected output until the duration passes or the program is interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(showPattern)
	},
}

func init() {
	patternCmd.Flags().DurationVarP(&durationFlag, `duration`, `t`, 10*time.Second, `how long to show the pattern (0 waits for interrupt)`)
	rootCmd.AddCommand(patternCmd)
	// Without a subcommand the pattern is shown.
	rootCmd.Flags().AddFlagSet(patternCmd.Flags())
}

func showPattern(log *slog.Logger) (err error) {
	m, err := open(log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := m.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if len(m.Enumerate()) == 0 {
		return errors.New("no usable outputs")
	}

	bound, err := m.BindAll()
	if err != nil {
		log.Warn("not all outputs could be bound", "error", err)
	}
	if len(bound) == 0 {
		return err
	}

	for _, o := range bound {
		if err := paint(o); err != nil {
			return err
		}
		fmt.Printf("showing pattern on %s\n", o)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if durationFlag > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, durationFlag)
		defer cancel()
	} else {
		fmt.Println("hit control-c to stop...")
	}
	<-ctx.Done()

	return nil
}

func paint(o *kms.Output) error {
	var (
		dst = o.Image()
		r   = dst.Bounds()
	)

	draw.Gradient(dst, r, color.RGBA{R: 0x10, G: 0x20, B: 0x80, A: 0xff}, color.RGBA{R: 0x80, G: 0x10, B: 0x20, A: 0xff})

	// Draw box around edge
	draw.Rectangle(dst, r, color.White)
	draw.Line(dst, r.Min, r.Max.Sub(image.Pt(1, 1)), color.White)
	draw.Line(dst, image.Pt(r.Min.X, r.Max.Y-1), image.Pt(r.Max.X-1, r.Min.Y), color.White)

	var (
		label = fmt.Sprintf("%s %s", o.Name, o.Mode)
		size  = float64(r.Dy()) / 16
	)
	extent, err := draw.MeasureText(size, label)
	if err != nil {
		return err
	}
	pos := image.Pt(r.Dx()/2-extent.X/2, r.Dy()/2-extent.Y/2)
	draw.Box(dst, image.Rectangle{Min: pos, Max: pos.Add(extent)}.Inset(-8), color.Black)
	_, err = draw.Text(dst, pos, size, color.White, label)
	return err
}
