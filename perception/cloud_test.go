package perception

import (
	"context"
	"image/color"
	"os"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/pointcloud"

	"plant_scan/bbox"
	"plant_scan/pose"
)

type staticSource struct {
	cloud pointcloud.PointCloud
	err   error
	calls int
}

func (s *staticSource) NextPointCloud(ctx context.Context, extra map[string]interface{}) (pointcloud.PointCloud, error) {
	s.calls++
	return s.cloud, s.err
}

// bedCloud is a 500 x 500 mm soil bed sampled every 5 mm with one plant
// occupying [200, 300) mm in x and y, 100 to 150 mm tall.
func bedCloud(t *testing.T) pointcloud.PointCloud {
	cloud := pointcloud.NewBasicEmpty()
	soil := pointcloud.NewColoredData(color.NRGBA{R: 115, G: 85, B: 60, A: 255})
	leaf := pointcloud.NewColoredData(color.NRGBA{R: 46, G: 150, B: 52, A: 255})
	i := 0
	for x := 0.0; x < 500; x += 5 {
		for y := 0.0; y < 500; y += 5 {
			p, d := v(x, y, 0), soil
			if x >= 200 && x < 300 && y >= 200 && y < 300 {
				p.Z = 100 + float64(i%6)*10
				d = leaf
			}
			require.NoError(t, cloud.Set(p, d))
			i++
		}
	}
	return cloud
}

var identity = pose.FromEuler(pose.Coord6{})

func TestCloudDeviceGrab(t *testing.T) {
	src := &staticSource{cloud: bedCloud(t)}
	dev := NewCloudDevice(src, 100, 100)

	_, err := dev.Grab(context.Background())
	assert.Error(t, err, "grab before open")

	require.NoError(t, dev.Open(context.Background(), identity.SpatialPose()))
	f, err := dev.Grab(context.Background())
	require.NoError(t, err)
	require.Len(t, f.Points, 100*100)
	assert.Equal(t, 1, src.calls)

	// top-left pixel is the far-left corner of the bed, in metres
	assert.InDelta(t, 0, f.Points[0].X, 1e-9)
	assert.InDelta(t, 0.495, f.Points[0].Y, 1e-9)
	assert.InDelta(t, 0, f.Points[0].Z, 1e-9)

	mask, err := PlantMask(f.Image, testConfig(t))
	require.NoError(t, err)
	assert.Equal(t, 400, mask.Count())
}

func TestCloudDeviceFindPlants(t *testing.T) {
	dev := NewCloudDevice(&staticSource{cloud: bedCloud(t)}, 100, 100)
	p := newTestPerception(t, dev)

	plants, err := p.FindPlants(context.Background(), identity, 2, bbox.FormatCorner)
	require.NoError(t, err)
	require.Len(t, plants, 1)
	box := plants[0].Box
	assert.InDelta(t, 200, box.Min.X, 1e-6)
	assert.InDelta(t, 295, box.Max.X, 1e-6)
	assert.InDelta(t, 200, box.Min.Y, 1e-6)
	assert.InDelta(t, 295, box.Max.Y, 1e-6)
	assert.InDelta(t, 100, box.Min.Z, 1e-6)
	assert.InDelta(t, 150, box.Max.Z, 1e-6)
}

func TestCloudDeviceErrors(t *testing.T) {
	ctx := context.Background()

	dev := NewCloudDevice(nil, 0, 0)
	assert.Error(t, dev.Open(ctx, identity.SpatialPose()))

	dev = NewCloudDevice(&staticSource{err: errors.New("no frames")}, 10, 10)
	require.NoError(t, dev.Open(ctx, identity.SpatialPose()))
	_, err := dev.Grab(ctx)
	assert.ErrorContains(t, err, "no frames")

	dev = NewCloudDevice(&staticSource{cloud: pointcloud.NewBasicEmpty()}, 10, 10)
	require.NoError(t, dev.Open(ctx, identity.SpatialPose()))
	_, err = dev.Grab(ctx)
	assert.Error(t, err)
}

func TestCell(t *testing.T) {
	assert.Equal(t, 0, cell(0, 10, 5))
	assert.Equal(t, 4, cell(10, 10, 5))
	assert.Equal(t, 2, cell(5, 10, 5))
	assert.Equal(t, 0, cell(3, 0, 5))
	assert.Equal(t, 0, cell(-1, 10, 5))
}

// columnCloud is a stem sampled at three heights over one floor point, in mm.
func columnCloud(t *testing.T) pointcloud.PointCloud {
	cloud := pointcloud.NewBasicEmpty()
	leaf := pointcloud.NewColoredData(color.NRGBA{R: 46, G: 150, B: 52, A: 255})
	for _, z := range []float64{100, 200, 300} {
		require.NoError(t, cloud.Set(v(50, 50, z), leaf))
	}
	require.NoError(t, cloud.Set(v(0, 0, 0), nil))
	return cloud
}

type fixedPose struct {
	at    pose.Coord6
	err   error
	calls int
}

func (f *fixedPose) CurrentPose(ctx context.Context) (pose.Coord6, error) {
	f.calls++
	return f.at, f.err
}

func cloudPoints(pc pointcloud.PointCloud) []r3.Vector {
	var pts []r3.Vector
	pc.Iterate(0, 0, func(p r3.Vector, _ pointcloud.Data) bool {
		pts = append(pts, p)
		return true
	})
	return pts
}

func TestRecordKeepsStackedPoints(t *testing.T) {
	dev := NewCloudDevice(&staticSource{cloud: columnCloud(t)}, 8, 8)
	p := newTestPerception(t, dev)

	cloud, err := p.capture(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 4, cloud.Size())
	pts := cloudPoints(cloud)
	for _, z := range []float64{100, 200, 300} {
		assert.Contains(t, pts, v(50, 50, z))
	}

	path, err := p.Record(context.Background(), "stem", 3)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "POINTS 4")
}

func TestRecordPlacesFramesAtCameraPose(t *testing.T) {
	dev := NewCloudDevice(&staticSource{cloud: columnCloud(t)}, 8, 8)
	p := newTestPerception(t, dev)
	src := &fixedPose{at: pose.Coord6{100, -20, 400, 0, 0, 0}}
	p.SetPoseSource(src)

	// a FindPlants hint must not leak into the recording
	_, err := p.FindPlants(context.Background(), hint, 1, bbox.FormatCorner)
	require.NoError(t, err)

	cloud, err := p.capture(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
	pts := cloudPoints(cloud)
	require.Len(t, pts, 4)
	found := false
	for _, pt := range pts {
		if pt.Sub(v(150, 30, 700)).Norm() < 1e-6 {
			found = true
		}
	}
	assert.True(t, found, "top of the stem moved by the camera pose: %v", pts)

	src.err = errors.New("arm gone")
	_, err = p.capture(context.Background(), 1)
	assert.ErrorContains(t, err, "arm gone")
	assert.Equal(t, Closed, p.Camera().State())
}
