package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/room4-2/iacfarm/app"
	"github.com/room4-2/iacfarm/weather"
)

var weatherCmd = &cobra.Command{
	Use:   "weather",
	Short: "Show current weather at the field",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			lat, lng, ok := coords(cmd)
			if !ok {
				g, farm := a.FarmGeo.Geo()
				if !farm {
					return errors.New("informe --lat e --lng ou configure FARM_LAT/FARM_LNG")
				}
				lat, lng = g.Lat, g.Lng
			}
			info := a.Weather.Fetch(ctx, lat, lng)
			if info == nil {
				return errors.New("clima indisponível no momento")
			}
			printWeather(cmd.OutOrStdout(), info)
			return nil
		})
	},
}

func init() {
	coordFlags(weatherCmd)
	rootCmd.AddCommand(weatherCmd)
}

func printWeather(out io.Writer, w *weather.Info) {
	fmt.Fprintf(out, "📍 %s\n", w.LocationName)
	fmt.Fprintf(out, "🌡️  %.1f °C   💧 %.0f%%   🌬️  %.1f km/h\n", w.Temperature, w.Humidity, w.WindSpeed)
}
