// Package effect defines the post-processing color effects the renderer can
// apply and the selector the pipeline and renderer share.
package effect

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// Effect selects a branch of the fragment shader.
type Effect int

const (
	Normal Effect = iota
	Invert
	Grayscale
	Sepia
)

// ErrUnknown is returned by Parse for names that are neither an effect name
// nor a decimal id.
var ErrUnknown = errors.New("effect: unknown effect")

var names = [...]string{"Normal", "Invert", "Grayscale", "Sepia"}

// All lists every effect in id order.
func All() []Effect { return []Effect{Normal, Invert, Grayscale, Sepia} }

// Names lists the effect names in id order.
func Names() []string {
	out := make([]string, len(names))
	copy(out, names[:])
	return out
}

// FromID maps an integer id to an Effect. Ids outside [0,3] map to Normal.
func FromID(id int) Effect {
	if id < int(Normal) || id > int(Sepia) {
		return Normal
	}
	return Effect(id)
}

// Parse accepts an effect name (case-insensitive) or a decimal id. Numeric
// ids go through FromID, so out-of-range numbers degrade to Normal.
func Parse(s string) (Effect, error) {
	s = strings.TrimSpace(s)
	if id, err := strconv.Atoi(s); err == nil {
		return FromID(id), nil
	}
	for i, n := range names {
		if strings.EqualFold(n, s) {
			return Effect(i), nil
		}
	}
	return Normal, errors.Wrapf(ErrUnknown, "%q", s)
}

func (e Effect) String() string {
	if e < Normal || e > Sepia {
		return "Unknown"
	}
	return names[e]
}

// Selector holds the active effect. One goroutine writes it (the UI side),
// the render thread reads it once per draw.
type Selector struct {
	v atomic.Int32
}

// NewSelector returns a selector set to initial.
func NewSelector(initial Effect) *Selector {
	s := &Selector{}
	s.Set(initial)
	return s
}

// Set stores e, normalizing unknown values to Normal.
func (s *Selector) Set(e Effect) { s.v.Store(int32(FromID(int(e)))) }

// Get returns the active effect.
func (s *Selector) Get() Effect { return Effect(s.v.Load()) }
