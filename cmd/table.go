package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/nextlevelbuilder/blelink/internal/peripheral"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Faint(true)
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// sortedPeripherals orders records by name, then id.
func sortedPeripherals(recs map[string]peripheral.PeripheralRecord) []peripheral.PeripheralRecord {
	out := make([]peripheral.PeripheralRecord, 0, len(recs))
	for _, r := range recs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// renderPeripheralTable prints discovered peripherals as an aligned table.
// Widths are measured in terminal cells so wide device names line up.
func renderPeripheralTable(w io.Writer, recs map[string]peripheral.PeripheralRecord) {
	if len(recs) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no peripherals found yet"))
		return
	}

	rows := [][]string{{"ID", "NAME", "PIN", "RSSI"}}
	for _, r := range sortedPeripherals(recs) {
		pin, ok := peripheral.ResolvePIN(r.Name)
		if !ok {
			pin = "-"
		}
		rssi := "-"
		if raw, ok := r.Field("rssi"); ok {
			rssi = string(raw)
		}
		name := r.Name
		if name == "" {
			name = "(unnamed)"
		}
		rows = append(rows, []string{r.ID, name, pin, rssi})
	}

	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			if cw := runewidth.StringWidth(cell); cw > widths[i] {
				widths[i] = cw
			}
		}
	}

	for i, row := range rows {
		cells := make([]string, len(row))
		for j, cell := range row {
			cells[j] = runewidth.FillRight(cell, widths[j])
		}
		line := strings.TrimRight(strings.Join(cells, "  "), " ")
		if i == 0 {
			line = headerStyle.Render(line)
		}
		fmt.Fprintln(w, line)
	}
}
