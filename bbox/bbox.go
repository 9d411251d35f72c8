// Package bbox converts axis-aligned plant boxes between the three shapes used by the
// operator surface: corner pair, centre plus extent, and min corner plus extent.
package bbox

import (
	"fmt"
	"math"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"plant_scan/pose"
)

// MetresToMillimetres is the factor applied once when boxes leave the camera frame.
const MetresToMillimetres = 1000.0

// Corner is a box given by its min and max corners.
type Corner struct {
	Min r3.Vector `json:"min"`
	Max r3.Vector `json:"max"`
}

// CenterExtent is (cx, cy, cz, w, d, h).
type CenterExtent struct {
	Center r3.Vector `json:"center"`
	Extent r3.Vector `json:"extent"`
}

// MinExtent is (x_min, y_min, z_min, w, d, h).
type MinExtent struct {
	Min    r3.Vector `json:"min"`
	Extent r3.Vector `json:"extent"`
}

// Format selects the packed shape returned to callers.
type Format string

const (
	FormatCorner       Format = "corner"
	FormatCenterExtent Format = "center_extent"
	FormatMinExtent    Format = "min_extent"
)

// ParseFormat accepts the long names and the single letters used at the operator panel
// ("p" PascalVOC corners, "y" YOLO centre+extent, "c" COCO min+extent).
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "corner", "p", "pascalvoc":
		return FormatCorner, nil
	case "center_extent", "y", "yolo", "":
		return FormatCenterExtent, nil
	case "min_extent", "c", "coco":
		return FormatMinExtent, nil
	}
	return "", errors.Wrapf(pose.ErrBadArgument, "unknown bbox format %q", s)
}

// Validate rejects boxes with max < min on any axis or non-finite values.
func (c Corner) Validate() error {
	for _, v := range []float64{c.Min.X, c.Min.Y, c.Min.Z, c.Max.X, c.Max.Y, c.Max.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Wrap(pose.ErrBadArgument, "non-finite box coordinate")
		}
	}
	if c.Max.X < c.Min.X || c.Max.Y < c.Min.Y || c.Max.Z < c.Min.Z {
		return errors.Wrapf(pose.ErrBadArgument, "degenerate box min=%v max=%v", c.Min, c.Max)
	}
	return nil
}

func (c Corner) Extent() r3.Vector {
	return c.Max.Sub(c.Min)
}

func (c Corner) Center() r3.Vector {
	return c.Min.Add(c.Max).Mul(0.5)
}

func (c Corner) String() string {
	return fmt.Sprintf("{min:(%.1f,%.1f,%.1f) max:(%.1f,%.1f,%.1f)}",
		c.Min.X, c.Min.Y, c.Min.Z, c.Max.X, c.Max.Y, c.Max.Z)
}

func CornerToCenterExtent(c Corner) (CenterExtent, error) {
	if err := c.Validate(); err != nil {
		return CenterExtent{}, err
	}
	return CenterExtent{Center: c.Center(), Extent: c.Extent()}, nil
}

func CornerToMinExtent(c Corner) (MinExtent, error) {
	if err := c.Validate(); err != nil {
		return MinExtent{}, err
	}
	return MinExtent{Min: c.Min, Extent: c.Extent()}, nil
}

func CenterExtentToCorner(ce CenterExtent) (Corner, error) {
	if err := checkExtent(ce.Extent); err != nil {
		return Corner{}, err
	}
	half := ce.Extent.Mul(0.5)
	c := Corner{Min: ce.Center.Sub(half), Max: ce.Center.Add(half)}
	return c, c.Validate()
}

func MinExtentToCorner(me MinExtent) (Corner, error) {
	if err := checkExtent(me.Extent); err != nil {
		return Corner{}, err
	}
	c := Corner{Min: me.Min, Max: me.Min.Add(me.Extent)}
	return c, c.Validate()
}

// Scale multiplies both corners by factor, which must be positive and finite.
func Scale(c Corner, factor float64) (Corner, error) {
	if err := c.Validate(); err != nil {
		return Corner{}, err
	}
	if !(factor > 0) || math.IsInf(factor, 0) {
		return Corner{}, errors.Wrapf(pose.ErrBadArgument, "scale factor %v", factor)
	}
	return Corner{Min: c.Min.Mul(factor), Max: c.Max.Mul(factor)}, nil
}

func checkExtent(e r3.Vector) error {
	if e.X < 0 || e.Y < 0 || e.Z < 0 {
		return errors.Wrapf(pose.ErrBadArgument, "negative extent %v", e)
	}
	return nil
}

// Packed is a box flattened to six numbers in one of the Formats.
type Packed [6]float64

// Pack flattens c into the requested format.
func Pack(c Corner, f Format) (Packed, error) {
	if err := c.Validate(); err != nil {
		return Packed{}, err
	}
	switch f {
	case FormatCorner:
		return Packed{c.Min.X, c.Min.Y, c.Min.Z, c.Max.X, c.Max.Y, c.Max.Z}, nil
	case FormatCenterExtent:
		ce, _ := CornerToCenterExtent(c)
		return Packed{ce.Center.X, ce.Center.Y, ce.Center.Z, ce.Extent.X, ce.Extent.Y, ce.Extent.Z}, nil
	case FormatMinExtent:
		me, _ := CornerToMinExtent(c)
		return Packed{me.Min.X, me.Min.Y, me.Min.Z, me.Extent.X, me.Extent.Y, me.Extent.Z}, nil
	}
	return Packed{}, errors.Wrapf(pose.ErrBadArgument, "unknown bbox format %q", f)
}

// Unpack is the inverse of Pack.
func Unpack(p Packed, f Format) (Corner, error) {
	a := r3.Vector{X: p[0], Y: p[1], Z: p[2]}
	b := r3.Vector{X: p[3], Y: p[4], Z: p[5]}
	switch f {
	case FormatCorner:
		c := Corner{Min: a, Max: b}
		return c, c.Validate()
	case FormatCenterExtent:
		return CenterExtentToCorner(CenterExtent{Center: a, Extent: b})
	case FormatMinExtent:
		return MinExtentToCorner(MinExtent{Min: a, Extent: b})
	}
	return Corner{}, errors.Wrapf(pose.ErrBadArgument, "unknown bbox format %q", f)
}

// AsCenterExtent reads a packed box of any format as centre+extent, the shape the
// orbit planner consumes.
func (p Packed) AsCenterExtent(f Format) (CenterExtent, error) {
	c, err := Unpack(p, f)
	if err != nil {
		return CenterExtent{}, err
	}
	return CornerToCenterExtent(c)
}

// FrontFaceOrientation is the tool orientation used for operator-face previews.
var FrontFaceOrientation = [3]float64{90, 0, -180}

// DobotFrontFace returns a pose centred on the box face nearest the operator station
// (the +Y face) looking at it, plus the box size.
func DobotFrontFace(c Corner) (pose.Pose, r3.Vector, error) {
	if err := c.Validate(); err != nil {
		return pose.Pose{}, r3.Vector{}, err
	}
	center := c.Center()
	p := pose.FromEuler(pose.Coord6{
		center.X, c.Max.Y, center.Z,
		FrontFaceOrientation[0], FrontFaceOrientation[1], FrontFaceOrientation[2],
	})
	return p, c.Extent(), nil
}
