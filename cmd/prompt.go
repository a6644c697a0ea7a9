package cmd

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"

	"github.com/nextlevelbuilder/blelink/internal/peripheral"
)

// runWithHelp wraps a huh field in a Form with help hints visible at the bottom.
func runWithHelp(fields ...huh.Field) error {
	return huh.NewForm(huh.NewGroup(fields...)).WithShowHelp(true).Run()
}

// filterThreshold: enable type-to-filter only when there are more than this many options.
const filterThreshold = 5

// SelectOption represents a single option in a select prompt.
type SelectOption[T any] struct {
	Label string
	Value T
}

// promptSelect shows a single-select list using huh TUI.
// Returns the value of the selected option.
func promptSelect[T comparable](title string, options []SelectOption[T], defaultIdx int) (T, error) {
	var value T

	huhOpts := make([]huh.Option[T], len(options))
	for i, opt := range options {
		huhOpts[i] = huh.NewOption(opt.Label, opt.Value)
	}
	if defaultIdx >= 0 && defaultIdx < len(options) {
		huhOpts[defaultIdx] = huhOpts[defaultIdx].Selected(true)
	}

	sel := huh.NewSelect[T]().
		Title(title).
		Options(huhOpts...).
		Value(&value)

	if len(options) > filterThreshold {
		sel = sel.Filtering(true)
	}

	if err := runWithHelp(sel); err != nil {
		var zero T
		return zero, err
	}
	return value, nil
}

// promptConfirm asks a yes/no question using huh TUI. Returns true for yes.
func promptConfirm(title string, defaultYes bool) (bool, error) {
	value := defaultYes

	c := huh.NewConfirm().
		Title(title).
		Affirmative("Yes").
		Negative("No").
		Value(&value)

	if err := runWithHelp(c); err != nil {
		return false, err
	}
	return value, nil
}

// peripheralOptions builds picker options, labelled "name (id)".
func peripheralOptions(recs map[string]peripheral.PeripheralRecord) []SelectOption[string] {
	sorted := sortedPeripherals(recs)
	options := make([]SelectOption[string], len(sorted))
	for i, r := range sorted {
		label := r.Name
		if label == "" {
			label = "(unnamed)"
		}
		options[i] = SelectOption[string]{Label: fmt.Sprintf("%s (%s)", label, r.ID), Value: r.ID}
	}
	return options
}

// pickPeripheral lets the user choose among discovered peripherals. A nil
// record with a nil error means the user aborted.
func pickPeripheral(recs map[string]peripheral.PeripheralRecord) (*peripheral.PeripheralRecord, error) {
	if len(recs) == 0 {
		return nil, errors.New("no peripherals discovered")
	}
	id, err := promptSelect("Select a peripheral", peripheralOptions(recs), 0)
	if err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return nil, nil
		}
		return nil, err
	}
	rec := recs[id]
	return &rec, nil
}
