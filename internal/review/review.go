// Package review reconciles human corrections with machine-extracted
// values. A Controller owns the edited-field map for one review session;
// the extracted data itself is never mutated.
package review

import (
	"sync"

	"github.com/mwhitford/cabinet/internal/extract"
)

// Controller holds corrections made during the Review stage. Edits are
// point writes keyed by field name; at save time every original field
// falls back to its extracted value when no edit exists, so absent keys
// are never silently dropped.
type Controller struct {
	mu     sync.Mutex
	data   *extract.EnhancedData
	edits  map[string]any
	seeded bool
}

// NewController seeds the edit map from the extracted field values.
func NewController(data *extract.EnhancedData) *Controller {
	c := &Controller{
		data:  data,
		edits: make(map[string]any),
	}
	if data != nil {
		for name, f := range data.Fields {
			c.edits[name] = f.Value
		}
		c.seeded = true
	}
	return c
}

// SetField records a correction for one field. Unknown names are accepted
// and passed through to the final payload unchanged.
func (c *Controller) SetField(name string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.edits[name] = value
}

// Edited returns a copy of the current edit map.
func (c *Controller) Edited() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]any, len(c.edits))
	for k, v := range c.edits {
		out[k] = v
	}
	return out
}

// Merge produces the final field payload: for every key originally present
// in the extracted data, the edited value when one exists, else the
// original; keys added beyond the original set pass through as-is.
func (c *Controller) Merge() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]any)
	if c.data != nil {
		for name, f := range c.data.Fields {
			if v, ok := c.edits[name]; ok {
				out[name] = v
			} else {
				out[name] = f.Value
			}
		}
	}
	for name, v := range c.edits {
		if _, ok := out[name]; !ok {
			out[name] = v
		}
	}
	return out
}
