// Package pose holds the tool pose types shared by the arm, planner and perception code.
// Positions are millimetres and angles are degrees at every exported boundary.
package pose

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/spatialmath"
	rutils "go.viam.com/rdk/utils"
	"gonum.org/v1/gonum/num/quat"
)

// WorkspaceFrame is the frame id of poses expressed relative to the arm base.
const WorkspaceFrame = "world"

// ReachRadius is the radius of the spherical reachability envelope around the arm base, in mm.
const ReachRadius = 900.0

var (
	ErrBadArgument = errors.New("bad argument")
	ErrUnreachable = errors.New("point outside reachable workspace")
)

// Coord6 is a tool vector (x, y, z, rx, ry, rz) or a joint vector, depending on context.
type Coord6 [6]float64

// Joints is a joint vector in degrees.
type Joints [6]float64

var numberRe = regexp.MustCompile(`[-+]?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?`)

// ParseCoord6 extracts six decimals from the first {...} group of s.
func ParseCoord6(s string) (Coord6, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return Coord6{}, errors.Wrapf(ErrBadArgument, "no '{' in %q", s)
	}
	end := strings.IndexByte(s[start:], '}')
	if end < 0 {
		return Coord6{}, errors.Wrapf(ErrBadArgument, "unterminated '{' in %q", s)
	}
	fields := numberRe.FindAllString(s[start+1:start+end], -1)
	if len(fields) != 6 {
		return Coord6{}, errors.Wrapf(ErrBadArgument, "expected 6 values, got %d in %q", len(fields), s)
	}
	var c Coord6
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return Coord6{}, errors.Wrapf(ErrBadArgument, "value %d: %v", i, err)
		}
		c[i] = v
	}
	return c, nil
}

// Coord6FromSlice builds a Coord6 from exactly six values.
func Coord6FromSlice(vals []float64) (Coord6, error) {
	var c Coord6
	if len(vals) != 6 {
		return c, errors.Wrapf(ErrBadArgument, "expected 6 values, got %d", len(vals))
	}
	copy(c[:], vals)
	return c, nil
}

func (c Coord6) Position() r3.Vector {
	return r3.Vector{X: c[0], Y: c[1], Z: c[2]}
}

func (c Coord6) String() string {
	return fmt.Sprintf("{%.3f,%.3f,%.3f,%.3f,%.3f,%.3f}", c[0], c[1], c[2], c[3], c[4], c[5])
}

func (j Joints) String() string {
	return Coord6(j).String()
}

// Pose is a position in mm plus a unit quaternion.
type Pose struct {
	Position    r3.Vector
	Orientation quat.Number
	FrameID     string
}

// FromEuler converts a tool-Euler vector (extrinsic XYZ, degrees) to a Pose.
func FromEuler(c Coord6) Pose {
	rx := rutils.DegToRad(c[3]) / 2
	ry := rutils.DegToRad(c[4]) / 2
	rz := rutils.DegToRad(c[5]) / 2
	qx := quat.Number{Real: math.Cos(rx), Imag: math.Sin(rx)}
	qy := quat.Number{Real: math.Cos(ry), Jmag: math.Sin(ry)}
	qz := quat.Number{Real: math.Cos(rz), Kmag: math.Sin(rz)}
	return Pose{
		Position:    c.Position(),
		Orientation: quat.Mul(qz, quat.Mul(qy, qx)),
		FrameID:     WorkspaceFrame,
	}
}

// FromEulerSlice is FromEuler for untyped input; anything but six values is rejected.
func FromEulerSlice(vals ...float64) (Pose, error) {
	c, err := Coord6FromSlice(vals)
	if err != nil {
		return Pose{}, err
	}
	return FromEuler(c), nil
}

// Euler returns the tool-Euler form with every angle in (-180, 180].
func (p Pose) Euler() Coord6 {
	q := p.Orientation
	if n := quat.Abs(q); n > 0 {
		q = quat.Scale(1/n, q)
	}
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag

	r00 := 1 - 2*(y*y+z*z)
	r01 := 2 * (x*y - w*z)
	r10 := 2 * (x*y + w*z)
	r11 := 1 - 2*(x*x+z*z)
	r20 := 2 * (x*z - w*y)
	r21 := 2 * (y*z + w*x)
	r22 := 1 - 2*(x*x+y*y)

	var rx, ry, rz float64
	if math.Abs(r20) < 1-1e-9 {
		rx = math.Atan2(r21, r22)
		ry = math.Asin(-r20)
		rz = math.Atan2(r10, r00)
	} else {
		// gimbal lock: fold roll into yaw
		ry = math.Copysign(math.Pi/2, -r20)
		rz = math.Atan2(-r01, r11)
	}
	return Coord6{
		p.Position.X, p.Position.Y, p.Position.Z,
		normalizeDeg(rutils.RadToDeg(rx)),
		normalizeDeg(rutils.RadToDeg(ry)),
		normalizeDeg(rutils.RadToDeg(rz)),
	}
}

// SpatialPose converts to an rdk pose in mm.
func (p Pose) SpatialPose() spatialmath.Pose {
	q := spatialmath.Quaternion(p.Orientation)
	return spatialmath.NewPose(p.Position, &q)
}

// FromSpatialPose is the inverse of SpatialPose.
func FromSpatialPose(sp spatialmath.Pose) Pose {
	return Pose{
		Position:    sp.Point(),
		Orientation: sp.Orientation().Quaternion(),
		FrameID:     WorkspaceFrame,
	}
}

// Reachable reports whether v lies inside the spherical envelope of radius ReachRadius.
func Reachable(v r3.Vector) (bool, error) {
	for _, f := range []float64{v.X, v.Y, v.Z} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false, errors.Wrapf(ErrBadArgument, "non-finite coordinate in %v", v)
		}
	}
	return v.X*v.X+v.Y*v.Y+v.Z*v.Z <= ReachRadius*ReachRadius, nil
}

func normalizeDeg(a float64) float64 {
	a = math.Mod(a, 360)
	if a <= -180 {
		a += 360
	} else if a > 180 {
		a -= 360
	}
	// snap float noise so that 180 does not come back as -179.9999999
	if math.Abs(a+180) < 1e-9 {
		a = 180
	}
	return a
}
