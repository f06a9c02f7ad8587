// Package slots computes the clinic's bookable time grid for a day.
package slots

import (
	"fmt"
	"time"
)

const (
	DefaultOpen  = "09:00"
	DefaultClose = "17:00"
	DefaultStep  = 30 * time.Minute
)

// For generates the slot start times covering [open, close), as HH:MM labels
// in strictly increasing order.
func For(open, close string, step time.Duration) ([]string, error) {
	if step <= 0 {
		return nil, fmt.Errorf("slot step must be positive, got %s", step)
	}
	openT, err := time.Parse("15:04", open)
	if err != nil {
		return nil, fmt.Errorf("invalid open time %q: %w", open, err)
	}
	closeT, err := time.Parse("15:04", close)
	if err != nil {
		return nil, fmt.Errorf("invalid close time %q: %w", close, err)
	}
	if !closeT.After(openT) {
		return nil, fmt.Errorf("close %q must be after open %q", close, open)
	}

	var out []string
	for t := openT; t.Before(closeT); t = t.Add(step) {
		out = append(out, t.Format("15:04"))
	}
	return out, nil
}

// Default returns the standard clinic grid: 09:00-17:00 in 30 minute slots.
func Default() []string {
	out, err := For(DefaultOpen, DefaultClose, DefaultStep)
	if err != nil {
		panic(err) // constants above are valid
	}
	return out
}

// Available returns all minus the occupied times, order preserved.
func Available(all []string, occupied map[string]struct{}) []string {
	out := make([]string, 0, len(all))
	for _, s := range all {
		if _, taken := occupied[s]; taken {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Aligned reports whether t is one of the grid's slot start times.
func Aligned(all []string, t string) bool {
	for _, s := range all {
		if s == t {
			return true
		}
	}
	return false
}
