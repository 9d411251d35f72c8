package pose

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
)

func TestParseCoord6(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Coord6
		wantErr bool
	}{
		{
			name: "dashboard reply",
			in:   "0,{-105.000000,-46.000000,86.000000,29.000000,-90.000000,168.000000},GetAngle();",
			want: Coord6{-105, -46, 86, 29, -90, 168},
		},
		{
			name: "spaces and exponents",
			in:   "{ 1.5, -2, 3e2, .5, 0, +7 }",
			want: Coord6{1.5, -2, 300, 0.5, 0, 7},
		},
		{
			name: "only first group is used",
			in:   "{1,2,3,4,5,6} {7,8,9,10,11,12}",
			want: Coord6{1, 2, 3, 4, 5, 6},
		},
		{name: "no braces", in: "1,2,3,4,5,6", wantErr: true},
		{name: "unterminated", in: "{1,2,3,4,5,6", wantErr: true},
		{name: "too few", in: "{1,2,3}", wantErr: true},
		{name: "too many", in: "{1,2,3,4,5,6,7}", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCoord6(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrBadArgument)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromEulerSliceLength(t *testing.T) {
	_, err := FromEulerSlice(1, 2, 3)
	assert.ErrorIs(t, err, ErrBadArgument)

	p, err := FromEulerSlice(10, 20, 30, 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, r3.Vector{X: 10, Y: 20, Z: 30}, p.Position)
	assert.InDelta(t, 1.0, p.Orientation.Real, 1e-12)
	assert.Equal(t, WorkspaceFrame, p.FrameID)
}

func TestEulerRoundTrip(t *testing.T) {
	cases := []Coord6{
		{300, 300, 450, 180, 0, 180},
		{300, 540, 385, -141, 0, 180},
		{514, 300, 405, -151, 0, 90},
		{300, 54, 385, -141, 0, 0},
		{57, 300, 385, -141, 0, -90},
		{-120, 102, 659, 160, 3, 175},
		{0, 0, 0, 90, 0, 180},
		{1, 2, 3, 12.5, -33, 71},
	}
	for _, c := range cases {
		t.Run(c.String(), func(t *testing.T) {
			got := FromEuler(c).Euler()
			for i := range got {
				assert.InDelta(t, c[i], got[i], 1e-6, "component %d", i)
			}
		})
	}
}

func TestEulerNormalizesToHalfOpenRange(t *testing.T) {
	got := FromEuler(Coord6{0, 0, 0, -180, 0, -180}).Euler()
	assert.InDelta(t, 180, got[3], 1e-6)
	assert.InDelta(t, 0, got[4], 1e-6)
	assert.InDelta(t, 180, got[5], 1e-6)
}

func TestEulerSameRotationUpToSign(t *testing.T) {
	c := Coord6{0, 0, 0, 20, -40, 60}
	p := FromEuler(c)
	neg := Pose{Orientation: quat.Scale(-1, p.Orientation)}
	got := neg.Euler()
	for i := 3; i < 6; i++ {
		assert.InDelta(t, c[i], got[i], 1e-6)
	}
}

func TestEulerGimbalLock(t *testing.T) {
	got := FromEuler(Coord6{0, 0, 0, 0, 90, 30}).Euler()
	assert.InDelta(t, 90, got[4], 1e-6)
	back := FromEuler(got)
	want := FromEuler(Coord6{0, 0, 0, 0, 90, 30})
	dot := back.Orientation.Real*want.Orientation.Real + back.Orientation.Imag*want.Orientation.Imag +
		back.Orientation.Jmag*want.Orientation.Jmag + back.Orientation.Kmag*want.Orientation.Kmag
	assert.InDelta(t, 1, math.Abs(dot), 1e-9)
}

func TestReachable(t *testing.T) {
	tests := []struct {
		name string
		v    r3.Vector
		want bool
	}{
		{"origin", r3.Vector{}, true},
		{"on sphere", r3.Vector{X: 900}, true},
		{"inside", r3.Vector{X: 300, Y: 300, Z: 450}, true},
		{"just outside", r3.Vector{X: 900.0001}, false},
		{"box corner", r3.Vector{X: 800, Y: 800, Z: 10}, false},
		{"negative side", r3.Vector{X: -500, Y: -500, Z: -500}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Reachable(tt.v)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Reachable(r3.Vector{X: math.NaN()})
	assert.ErrorIs(t, err, ErrBadArgument)
	_, err = Reachable(r3.Vector{Z: math.Inf(1)})
	assert.ErrorIs(t, err, ErrBadArgument)
}

func TestSpatialPoseRoundTrip(t *testing.T) {
	p := FromEuler(Coord6{-120, 102, 659, 160, 3, 175})
	back := FromSpatialPose(p.SpatialPose())
	assert.InDelta(t, p.Position.X, back.Position.X, 1e-9)
	assert.InDelta(t, p.Position.Z, back.Position.Z, 1e-9)
	e1, e2 := p.Euler(), back.Euler()
	for i := range e1 {
		assert.InDelta(t, e1[i], e2[i], 1e-6)
	}
}
