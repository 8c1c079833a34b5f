// Command farmchat runs the IAC Farm assistant in a terminal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/room4-2/iacfarm/app"
	"github.com/room4-2/iacfarm/config"
	"github.com/room4-2/iacfarm/logger"
)

var rootCmd = &cobra.Command{
	Use:   "farmchat",
	Short: "IAC Farm agronomy assistant for the terminal",
	Long: `farmchat talks to the IAC Farm assistant without the web client:
chat with photo diagnosis and voice playback, crop plans, the plant
registry and local weather.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log backend activity to stderr")
}

// withApp loads configuration, builds the backends and runs fn until it
// returns or the user interrupts.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	level := "warn"
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = "debug"
	}
	zlog, err := logger.New(level)
	if err != nil {
		return err
	}
	defer func() { _ = zlog.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	a, err := app.Build(ctx, cfg, zlog)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// coordFlags registers --lat/--lng on cmd.
func coordFlags(cmd *cobra.Command) {
	cmd.Flags().Float64("lat", 0, "latitude of the field")
	cmd.Flags().Float64("lng", 0, "longitude of the field")
	cmd.MarkFlagsRequiredTogether("lat", "lng")
}

// coords returns the --lat/--lng pair when both were given.
func coords(cmd *cobra.Command) (lat, lng float64, ok bool) {
	if !cmd.Flags().Changed("lat") || !cmd.Flags().Changed("lng") {
		return 0, 0, false
	}
	lat, _ = cmd.Flags().GetFloat64("lat")
	lng, _ = cmd.Flags().GetFloat64("lng")
	return lat, lng, true
}
