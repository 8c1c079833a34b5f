package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/room4-2/iacfarm/app"
	"github.com/room4-2/iacfarm/persistence"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List the plant registry and saved crop plans",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		plans, _ := cmd.Flags().GetBool("plans")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			out := cmd.OutOrStdout()
			if plans {
				saved, err := a.Store.ListCropPlans(ctx, limit)
				if err != nil {
					return err
				}
				printPlans(out, saved, time.Now())
				return nil
			}
			diagnoses, err := a.Store.ListDiagnoses(ctx, limit)
			if err != nil {
				return err
			}
			printDiagnoses(out, diagnoses, time.Now())
			return nil
		})
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum entries to show")
	historyCmd.Flags().Bool("plans", false, "list crop plans instead of diagnoses")
	rootCmd.AddCommand(historyCmd)
}

var healthIcons = map[persistence.HealthStatus]string{
	persistence.Healthy:    "✅",
	persistence.Diseased:   "🦠",
	persistence.Pest:       "🐛",
	persistence.Deficiency: "🍂",
}

func printDiagnoses(out io.Writer, ds []persistence.Diagnosis, now time.Time) {
	if len(ds) == 0 {
		fmt.Fprintln(out, "Nenhuma planta registrada ainda.")
		return
	}
	for _, d := range ds {
		fmt.Fprintf(out, "%s %s, %s (%s)\n", healthIcons[d.HealthStatus], d.CommonName, humanize.RelTime(d.Date, now, "atrás", "depois"), d.Location)
		fmt.Fprintf(out, "   %s\n", d.Summary)
		if d.ImageURL != "" {
			fmt.Fprintf(out, "   %s\n", d.ImageURL)
		}
	}
}

func printPlans(out io.Writer, plans []persistence.StoredPlan, now time.Time) {
	if len(plans) == 0 {
		fmt.Fprintln(out, "Nenhum plano salvo ainda.")
		return
	}
	for _, p := range plans {
		fmt.Fprintf(out, "🌾 %s, %s (%s)\n", p.CropName, humanize.RelTime(p.CreatedAt, now, "atrás", "depois"), humanize.Bytes(uint64(len(p.Data))))
	}
}
