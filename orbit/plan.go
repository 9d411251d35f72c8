// Package orbit computes the five-pose tour around a plant box. It performs no I/O.
package orbit

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"plant_scan/bbox"
	"plant_scan/pose"
)

var (
	ErrNoPlant        = errors.New("no plant selected")
	ErrBelowFloor     = errors.New("plant below work surface")
	ErrOnAxis         = errors.New("plant centre lies on a workspace axis")
	ErrNotImplemented = errors.New("quadrant not calibrated")
)

// ErrUnreachable is shared with the arm so callers can match one sentinel.
var ErrUnreachable = pose.ErrUnreachable

type Quadrant int

const (
	QuadrantNone Quadrant = iota
	Q1
	Q2
	Q3
	Q4
)

func (q Quadrant) String() string {
	switch q {
	case Q1:
		return "Q1"
	case Q2:
		return "Q2"
	case Q3:
		return "Q3"
	case Q4:
		return "Q4"
	}
	return "none"
}

// Classify returns the quadrant of (x, y); points on an axis return QuadrantNone.
func Classify(x, y float64) Quadrant {
	switch {
	case x > 0 && y > 0:
		return Q1
	case x < 0 && y > 0:
		return Q2
	case x < 0 && y < 0:
		return Q3
	case x > 0 && y < 0:
		return Q4
	}
	return QuadrantNone
}

type quadrantSetup struct {
	home   pose.Joints
	topYaw float64
}

var quadrants = map[Quadrant]quadrantSetup{
	Q1: {home: pose.Joints{-105, -46, 86, 29, -90, 168}, topYaw: 180},
	Q2: {home: pose.Joints{103, 39, -86, -24, 88, 195}, topYaw: 90},
}

// Label names an orbit waypoint.
type Label string

const (
	Top   Label = "top"
	Front Label = "front"
	Right Label = "right"
	Back  Label = "back"
	Left  Label = "left"

	// Home is the quadrant home joints the orbit leaves from and returns to.
	Home Label = "home"
)

type viewpoint struct {
	label  Label
	offset r3.Vector
	rx, ry float64
	rz     float64
}

// Offsets are relative to the top-of-box point. The top yaw depends on the quadrant.
var viewpoints = []viewpoint{
	{label: Top, offset: r3.Vector{X: 0, Y: 0, Z: 350}, rx: -180, ry: 0},
	{label: Front, offset: r3.Vector{X: 0, Y: 240, Z: 285}, rx: -141, ry: 0, rz: 180},
	{label: Right, offset: r3.Vector{X: 214, Y: 0, Z: 305}, rx: -151, ry: 0, rz: 90},
	{label: Back, offset: r3.Vector{X: 0, Y: -246, Z: 285}, rx: -141, ry: 0, rz: 0},
	{label: Left, offset: r3.Vector{X: -243, Y: 0, Z: 285}, rx: -141, ry: 0, rz: -90},
}

// Waypoint is one labelled tool-Euler target.
type Waypoint struct {
	Label  Label       `json:"label"`
	Target pose.Coord6 `json:"target"`
}

func (w Waypoint) String() string {
	return fmt.Sprintf("%s %s", w.Label, w.Target)
}

// Plan is a validated orbit around one plant.
type Plan struct {
	Quadrant  Quadrant
	Home      pose.Joints
	TopOfBox  r3.Vector
	waypoints [5]Waypoint
}

// NewPlan validates box and derives the orbit. A nil box yields ErrNoPlant.
// Gates run in order: presence, floor, reachability of (cx, cy, h), axis, quadrant calibration.
func NewPlan(box *bbox.CenterExtent) (*Plan, error) {
	if box == nil {
		return nil, ErrNoPlant
	}
	c, e := box.Center, box.Extent
	for _, v := range []float64{c.X, c.Y, c.Z, e.X, e.Y, e.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.Wrap(pose.ErrBadArgument, "non-finite plant box")
		}
	}
	if c.Z < 0 {
		return nil, errors.Wrapf(ErrBelowFloor, "cz=%.1f", c.Z)
	}
	ok, err := pose.Reachable(r3.Vector{X: c.X, Y: c.Y, Z: e.Z})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(ErrUnreachable, "plant at (%.1f, %.1f) height %.1f", c.X, c.Y, e.Z)
	}
	q := Classify(c.X, c.Y)
	if q == QuadrantNone {
		return nil, errors.Wrapf(ErrOnAxis, "cx=%.1f cy=%.1f", c.X, c.Y)
	}
	setup, ok := quadrants[q]
	if !ok {
		return nil, errors.Wrapf(ErrNotImplemented, "%s", q)
	}

	top := r3.Vector{X: c.X, Y: c.Y, Z: c.Z + e.Z/2}
	p := &Plan{Quadrant: q, Home: setup.home, TopOfBox: top}
	for i, vp := range viewpoints {
		rz := vp.rz
		if vp.label == Top {
			rz = setup.topYaw
		}
		at := top.Add(vp.offset)
		p.waypoints[i] = Waypoint{
			Label:  vp.label,
			Target: pose.Coord6{at.X, at.Y, at.Z, vp.rx, vp.ry, rz},
		}
	}
	return p, nil
}

// Waypoints returns [top, front, right, back, left].
func (p *Plan) Waypoints() []Waypoint {
	out := make([]Waypoint, len(p.waypoints))
	copy(out, p.waypoints[:])
	return out
}

// Route is the execution order: every side is entered from and left to top.
func (p *Plan) Route() []Waypoint {
	top := p.waypoints[0]
	route := []Waypoint{top}
	for _, side := range p.waypoints[1:] {
		route = append(route, side, top)
	}
	return route
}

// RecordingName turns an operator-supplied plant name into the artefact key for this
// plan. Empty names fall back to the quadrant so the artefact is still addressable.
func (p *Plan) RecordingName(plant string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_', r == '.':
			return r
		case unicode.IsSpace(r):
			return '_'
		}
		return -1
	}, strings.TrimSpace(plant))
	name = strings.TrimLeft(name, ".")
	if name == "" {
		return "plant_" + strings.ToLower(p.Quadrant.String())
	}
	return name
}
