package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dokzlo13/installd/internal/app"
	"github.com/dokzlo13/installd/internal/reconcile"
)

var planSettle time.Duration

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Observe once and print what a reconcile pass would do",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		ctx, cancel := context.WithTimeout(app.SignalContext(), planSettle+cfg.ShutdownTimeout.Duration())
		defer cancel()

		services, err := app.NewServices(ctx, cfg)
		if err != nil {
			return err
		}
		defer services.Close()

		plans := services.DryRun(ctx, planSettle)

		pending := 0
		for _, p := range plans {
			pterm.DefaultSection.Println(p.Controller)

			tableData := [][]string{{"Component", "Observed", "Desired", "Action"}}
			for _, d := range p.Decisions {
				if d.Action.Acts() || d.Action == reconcile.ActionWait {
					pending++
				}
				tableData = append(tableData, []string{
					d.ID,
					string(d.Observed),
					string(d.Desired),
					actionStyle(d.Action).Sprint(d.Action.String()),
				})
			}
			if err := pterm.DefaultTable.WithHasHeader().WithData(tableData).Render(); err != nil {
				return err
			}
		}

		if pending == 0 {
			pterm.Success.Println("All components converged")
		} else {
			pterm.Info.Printfln("%d component(s) need attention", pending)
		}
		return nil
	},
}

func init() {
	planCmd.Flags().DurationVar(&planSettle, "settle", 2*time.Second, "How long to wait for host status answers before planning")
}

func actionStyle(a reconcile.Action) *pterm.Style {
	switch a {
	case reconcile.ActionAdd:
		return pterm.NewStyle(pterm.FgGreen)
	case reconcile.ActionRemove:
		return pterm.NewStyle(pterm.FgRed)
	case reconcile.ActionWait:
		return pterm.NewStyle(pterm.FgYellow)
	default:
		return pterm.NewStyle(pterm.FgDefault)
	}
}
