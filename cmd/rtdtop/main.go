// Command rtdtop is a live terminal dashboard that polls a running
// rtd's /debug/report endpoint and renders its metrics as a text list
// (SPEC_FULL.md §2.1's domain-stack assignment of termui to this
// command: "an operator tool, not part of the control-loop core").
// Grounded on the teacher's tool/vconfig/tui.go for the termui
// grid/list/event-loop shape, adapted from an interactive config editor
// to a read-only polling dashboard.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	"github.com/go-resty/resty/v2"
)

// reportView is the subset of internal/rpcservice.ReportEnvelope this
// dashboard needs; decoded independently so rtdtop has no import
// dependency on the daemon's internal packages.
type reportView struct {
	Policy struct {
		Agent         string    `json:"agent"`
		PeriodSeconds float64   `json:"period_seconds"`
		Params        []float64 `json:"params"`
	} `json:"policy"`
	Metrics []struct {
		Name  string  `json:"name"`
		Count uint64  `json:"count"`
		Mean  float64 `json:"mean"`
		Min   float64 `json:"min"`
		Max   float64 `json:"max"`
	} `json:"metrics"`
	LastErr string `json:"last_error,omitempty"`
}

func main() {
	addr := flag.String("addr", "http://127.0.0.1:8196", "base URL of the rtd debug HTTP surface to poll")
	interval := flag.Duration("interval", time.Second, "poll interval")
	flag.Parse()

	if err := runDashboard(*addr, *interval); err != nil {
		fmt.Fprintln(os.Stderr, "rtdtop: "+err.Error())
		os.Exit(1)
	}
}

func runDashboard(addr string, interval time.Duration) error {
	if err := termui.Init(); err != nil {
		return fmt.Errorf("failed to initialize termui: %w", err)
	}
	defer termui.Close()

	client := resty.New().SetBaseURL(addr).SetTimeout(3 * time.Second)

	grid := termui.NewGrid()
	termWidth, termHeight := termui.TerminalDimensions()
	grid.SetRect(0, 0, termWidth, termHeight)

	title := widgets.NewParagraph()
	title.Text = "rtdtop - " + addr
	title.TextStyle.Fg = termui.ColorGreen
	title.Border = false

	status := widgets.NewParagraph()
	status.Title = "Policy"
	status.Text = "connecting..."

	list := widgets.NewList()
	list.Title = "Metrics"
	list.Rows = []string{"waiting for first sample..."}

	instructions := widgets.NewParagraph()
	instructions.Text = "Press q to quit"
	instructions.Border = false

	grid.Set(
		termui.NewRow(1.0/10, title),
		termui.NewRow(2.0/10, status),
		termui.NewRow(6.0/10, list),
		termui.NewRow(1.0/10, instructions),
	)
	termui.Render(grid)

	render := func() {
		view, err := fetchReport(client)
		if err != nil {
			status.Text = fmt.Sprintf("[error](fg:red) %v", err)
			termui.Render(grid)
			return
		}
		status.Text = fmt.Sprintf("agent: %s  period: %.3fs", view.Policy.Agent, view.Policy.PeriodSeconds)
		if view.LastErr != "" {
			status.Text += fmt.Sprintf("\n[last error](fg:red): %s", view.LastErr)
		}

		rows := make([]string, 0, len(view.Metrics))
		sort.Slice(view.Metrics, func(i, j int) bool { return view.Metrics[i].Name < view.Metrics[j].Name })
		for _, m := range view.Metrics {
			rows = append(rows, fmt.Sprintf("[%-16s](fg:blue) mean=%10.3f min=%10.3f max=%10.3f n=%d",
				m.Name, m.Mean, m.Min, m.Max, m.Count))
		}
		if len(rows) == 0 {
			rows = []string{"no samples yet"}
		}
		list.Rows = rows
		termui.Render(grid)
	}
	render()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	uiEvents := termui.PollEvents()

	for {
		select {
		case e := <-uiEvents:
			switch e.ID {
			case "q", "<C-c>":
				return nil
			case "<Resize>":
				payload := e.Payload.(termui.Resize)
				grid.SetRect(0, 0, payload.Width, payload.Height)
				termui.Render(grid)
			}
		case <-ticker.C:
			render()
		}
	}
}

func fetchReport(client *resty.Client) (reportView, error) {
	resp, err := client.R().Get("/debug/report")
	if err != nil {
		return reportView{}, err
	}
	if resp.IsError() {
		return reportView{}, fmt.Errorf("unexpected status %d", resp.StatusCode())
	}

	var envelope struct {
		Payload reportView `json:"payload"`
	}
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
		return reportView{}, fmt.Errorf("decode report: %w", err)
	}
	return envelope.Payload, nil
}
