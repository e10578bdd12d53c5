package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dokzlo13/installd/internal/reconcile"
)

var statusAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show controller status from a running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()

		controllers, err := fetchControllers(ctx, statusAddr)
		if err != nil {
			return err
		}
		if len(controllers) == 0 {
			pterm.Info.Println("No controllers registered.")
			return nil
		}

		for _, c := range controllers {
			header := c.Name
			if c.Converged {
				header += " (converged)"
			}
			pterm.DefaultSection.Println(header)

			tableData := [][]string{{"Component", "State", "Desired", "Busy", "Stale", "Last Report"}}
			for _, d := range c.Components {
				last := "-"
				if !d.LastReport.IsZero() {
					last = d.LastReport.Format("2006-01-02 15:04:05")
				}
				stale := strconv.FormatBool(d.Stale)
				if d.Stale {
					stale = pterm.NewStyle(pterm.FgRed).Sprint(stale)
				}
				tableData = append(tableData, []string{
					d.ID,
					string(d.State),
					string(d.Desired),
					strconv.FormatBool(d.Busy),
					stale,
					last,
				})
			}
			if err := pterm.DefaultTable.WithHasHeader().WithData(tableData).Render(); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "127.0.0.1:9090", "Address of the daemon API")
}

func fetchControllers(ctx context.Context, addr string) ([]reconcile.Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/v1/controllers", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach daemon at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("daemon returned %s", resp.Status)
	}

	var body struct {
		Controllers []reconcile.Status `json:"controllers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode controller status: %w", err)
	}
	return body.Controllers, nil
}
