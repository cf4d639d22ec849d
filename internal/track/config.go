package track

import (
	"maps"
	"slices"

	"github.com/genome-tiles/server/internal/painter"
)

// Config is an immutable snapshot of a track's user-facing settings.
// The With methods return modified copies.
type Config struct {
	name  string
	mode  string
	prefs map[string]string
}

// NewConfig returns a snapshot holding a copy of prefs.
func NewConfig(name, mode string, prefs map[string]string) Config {
	return Config{name: name, mode: mode, prefs: maps.Clone(prefs)}
}

// Name returns the display name.
func (c Config) Name() string { return c.name }

// Mode returns the display mode.
func (c Config) Mode() string { return c.mode }

// Pref returns one preference.
func (c Config) Pref(key string) (string, bool) {
	v, ok := c.prefs[key]
	return v, ok
}

// Prefs returns a copy of the preferences.
func (c Config) Prefs() painter.Prefs {
	out := make(painter.Prefs, len(c.prefs))
	for k, v := range c.prefs {
		out[k] = v
	}
	return out
}

// WithName returns c renamed.
func (c Config) WithName(name string) Config {
	c.name = name
	return c
}

// WithMode returns c with a new display mode.
func (c Config) WithMode(mode string) Config {
	c.mode = mode
	return c
}

// WithPref returns c with key set to value.
func (c Config) WithPref(key, value string) Config {
	prefs := maps.Clone(c.prefs)
	if prefs == nil {
		prefs = make(map[string]string, 1)
	}
	prefs[key] = value
	c.prefs = prefs
	return c
}

// WithoutPref returns c with key removed.
func (c Config) WithoutPref(key string) Config {
	if _, ok := c.prefs[key]; !ok {
		return c
	}
	prefs := maps.Clone(c.prefs)
	delete(prefs, key)
	c.prefs = prefs
	return c
}

// Change lists what differs between two snapshots.
type Change struct {
	Name  bool     `json:"name"`
	Mode  bool     `json:"mode"`
	Prefs []string `json:"prefs,omitempty"`
}

// Diff compares two snapshots. Changed preference keys are sorted.
func Diff(old, cur Config) Change {
	ch := Change{Name: old.name != cur.name, Mode: old.mode != cur.mode}
	for k, v := range cur.prefs {
		if ov, ok := old.prefs[k]; !ok || ov != v {
			ch.Prefs = append(ch.Prefs, k)
		}
	}
	for k := range old.prefs {
		if _, ok := cur.prefs[k]; !ok {
			ch.Prefs = append(ch.Prefs, k)
		}
	}
	slices.Sort(ch.Prefs)
	return ch
}

// Empty reports whether nothing changed.
func (c Change) Empty() bool {
	return !c.Name && !c.Mode && len(c.Prefs) == 0
}

// ClearsTiles reports whether cached tiles no longer match the settings.
// A rename alone keeps them.
func (c Change) ClearsTiles() bool {
	return c.Mode || len(c.Prefs) > 0
}

// DrawOptions tune one draw request.
type DrawOptions struct {
	// Force redraws tiles even when cached.
	Force bool `json:"force,omitempty"`
	// ClearAfter keeps old tiles on screen until the new ones are placed.
	ClearAfter bool `json:"clear_after,omitempty"`
	// ClearTileCache drops every cached tile before drawing.
	ClearTileCache bool `json:"clear_tile_cache,omitempty"`
	// NoFetch draws only what can be drawn without new data.
	NoFetch bool `json:"no_fetch,omitempty"`
	// Mode overrides the configured display mode.
	Mode string `json:"mode,omitempty"`
}

// Merge folds the later request n into o. Force and clear flags
// accumulate; otherwise n wins, with an empty mode meaning unset.
func (o DrawOptions) Merge(n DrawOptions) DrawOptions {
	o.Force = o.Force || n.Force
	o.ClearAfter = o.ClearAfter || n.ClearAfter
	o.ClearTileCache = o.ClearTileCache || n.ClearTileCache
	o.NoFetch = n.NoFetch
	if n.Mode != "" {
		o.Mode = n.Mode
	}
	return o
}
