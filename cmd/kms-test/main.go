package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-errors/errors"
	"github.com/spf13/cobra"

	"github.com/BeatGlow/kms"
	"github.com/BeatGlow/kms/drm"
)

var rootCmd = &cobra.Command{
	Use:          filepath.Base(os.Args[0]),
	Short:        "kms-test shows a test pattern on every connected display",
	Long:         "kms-test shows a test pattern on every connected display, using dumb framebuffers on a DRM device",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return patternCmd.RunE(cmd, args)
	},
}

var (
	cardFlag   int
	deviceFlag string
	debugFlag  bool
)

func init() {
	cobra.EnablePrefixMatching = true
	rootCmd.PersistentFlags().IntVarP(&cardFlag, `card`, `c`, 0, `DRM card number`)
	rootCmd.PersistentFlags().StringVar(&deviceFlag, `device`, ``, `DRM device path (overrides --card)`)
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, `debug`, `d`, os.Getenv("KMS_DEBUG") != "", `debug logging and error stacks (env KMS_DEBUG)`)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func logger() *slog.Logger {
	level := slog.LevelInfo
	if debugFlag {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// open the device selected by the flags and return a manager owning it.
func open(log *slog.Logger) (*kms.Manager, error) {
	var (
		card *drm.Card
		err  error
	)
	if deviceFlag != "" {
		card, err = drm.Open(deviceFlag)
	} else {
		card, err = drm.OpenCard(cardFlag)
	}
	if err != nil {
		return nil, err
	}
	log.Debug("opened device", "device", card.String())

	return kms.New(card, &kms.Config{Logger: log}), nil
}

// run fn and print its error, with a stack trace if available in debug mode.
func run(fn func(log *slog.Logger) error) error {
	err := fn(logger())
	if err == nil {
		return nil
	}

	var stackErr *errors.Error
	if debugFlag && errors.As(err, &stackErr) {
		fmt.Fprintln(os.Stderr, err.Error())
		fmt.Fprintln(os.Stderr, stackErr.ErrorStack())
	} else {
		fmt.Fprintln(os.Stderr, "fatal: "+err.Error())
	}
	return err
}
