package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/room4-2/iacfarm/app"
	"github.com/room4-2/iacfarm/chat"
	"github.com/room4-2/iacfarm/planner"
)

var planCmd = &cobra.Command{
	Use:   "plan <cultura>",
	Short: "Generate a crop planning report",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		crop := strings.Join(args, " ")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			var geo *chat.GeoContext
			if lat, lng, ok := coords(cmd); ok {
				geo = &chat.GeoContext{Lat: lat, Lng: lng}
			} else if g, ok := a.FarmGeo.Geo(); ok {
				geo = &g
			}

			plan, err := a.Planner.Generate(ctx, crop, geo)
			if err != nil {
				return err
			}
			if asJSON {
				data, err := sonic.ConfigStd.MarshalIndent(plan, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return err
			}
			printPlan(cmd.OutOrStdout(), plan, time.Now())
			return nil
		})
	},
}

func init() {
	coordFlags(planCmd)
	planCmd.Flags().Bool("json", false, "print the raw plan as JSON")
	rootCmd.AddCommand(planCmd)
}

// printPlan renders the report for reading in a terminal. now anchors the
// harvest window for a crop planted today.
func printPlan(out io.Writer, p *planner.CropPlan, now time.Time) {
	fmt.Fprintf(out, "🌾 %s", p.CropName)
	if p.ScientificName != "" {
		fmt.Fprintf(out, " (%s)", p.ScientificName)
	}
	fmt.Fprintln(out)
	if p.Description != "" {
		fmt.Fprintln(out, p.Description)
	}
	fmt.Fprintf(out, "Melhor época: %s\n", p.BestSeason)
	fmt.Fprintf(out, "Ciclo: %s\n", p.CycleDuration)
	from, to := p.HarvestWindow(now)
	fmt.Fprintf(out, "Plantando hoje, colheita entre %s e %s\n", from.Format("02/01/2006"), to.Format("02/01/2006"))
	fmt.Fprintf(out, "Solo: pH %s, %s, foco em %s\n", p.SoilRequirements.PH, p.SoilRequirements.Texture, p.SoilRequirements.NutrientFocus)
	fmt.Fprintf(out, "NPK (1-10): N %d  P %d  K %d  pH ideal %.1f\n", p.SoilData.Nitrogen, p.SoilData.Phosphorus, p.SoilData.Potassium, p.SoilData.PHValue)
	fmt.Fprintf(out, "Irrigação: %s, %s\n", p.Irrigation.Method, p.Irrigation.Frequency)

	fmt.Fprintln(out, "\nPlantio:")
	for i, step := range p.PlantingSteps {
		fmt.Fprintf(out, "  %d. %s\n", i+1, step)
	}
	if len(p.CommonPests) > 0 {
		fmt.Fprintf(out, "\nPragas comuns: %s\n", strings.Join(p.CommonPests, ", "))
	}
	if len(p.SeasonalRisks) > 0 {
		fmt.Fprintln(out, "\nCalendário de riscos:")
		for _, r := range p.SeasonalRisks {
			fmt.Fprintf(out, "  %s (%s): %s. %s\n", r.Period, r.Stage, strings.Join(r.Risks, ", "), r.Prevention)
		}
	}
	if p.HarvestIndicators != "" {
		fmt.Fprintf(out, "\nPonto de colheita: %s\n", p.HarvestIndicators)
	}
}
