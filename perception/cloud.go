package perception

import (
	"context"
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/pointcloud"
	"go.viam.com/rdk/spatialmath"

	"plant_scan/bbox"
)

// CloudSource produces unorganised point clouds in millimetres. rdk cameras satisfy it.
type CloudSource interface {
	NextPointCloud(ctx context.Context, extra map[string]interface{}) (pointcloud.PointCloud, error)
}

// CloudDevice turns a CloudSource into a Device by projecting each cloud onto a
// top-down grid. Where several points fall in one cell the highest one wins; the
// untouched cloud travels along in Frame.Cloud.
type CloudDevice struct {
	src           CloudSource
	width, height int

	mu        sync.Mutex
	open      bool
	extrinsic spatialmath.Pose
}

func NewCloudDevice(src CloudSource, width, height int) *CloudDevice {
	if width <= 0 {
		width = 640
	}
	if height <= 0 {
		height = 480
	}
	return &CloudDevice{src: src, width: width, height: height}
}

func (d *CloudDevice) Open(ctx context.Context, extrinsic spatialmath.Pose) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.src == nil {
		return errors.New("no point cloud source")
	}
	d.open = true
	d.extrinsic = extrinsic
	return nil
}

func (d *CloudDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	return nil
}

type cloudSample struct {
	p r3.Vector
	c color.NRGBA
}

func (d *CloudDevice) Grab(ctx context.Context) (*Frame, error) {
	d.mu.Lock()
	open, extrinsic := d.open, d.extrinsic
	d.mu.Unlock()
	if !open {
		return nil, errors.New("cloud device not open")
	}

	cloud, err := d.src.NextPointCloud(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "next point cloud")
	}
	if cloud == nil || cloud.Size() == 0 {
		return nil, errors.New("empty point cloud")
	}

	samples := make([]cloudSample, 0, cloud.Size())
	lo := r3.Vector{X: math.Inf(1), Y: math.Inf(1)}
	hi := r3.Vector{X: math.Inf(-1), Y: math.Inf(-1)}
	cloud.Iterate(0, 0, func(p r3.Vector, data pointcloud.Data) bool {
		if extrinsic != nil {
			p = spatialmath.Compose(extrinsic, spatialmath.NewPoseFromPoint(p)).Point()
		}
		p = p.Mul(1 / bbox.MetresToMillimetres)
		if !finite(p) {
			return true
		}
		c := untextured
		if data != nil && data.HasColor() {
			c = color.NRGBAModel.Convert(data.Color()).(color.NRGBA)
		}
		samples = append(samples, cloudSample{p: p, c: c})
		lo.X, lo.Y = math.Min(lo.X, p.X), math.Min(lo.Y, p.Y)
		hi.X, hi.Y = math.Max(hi.X, p.X), math.Max(hi.Y, p.Y)
		return true
	})
	if len(samples) == 0 {
		return nil, errors.New("point cloud has no finite points")
	}

	img := image.NewNRGBA(image.Rect(0, 0, d.width, d.height))
	points := make([]r3.Vector, d.width*d.height)
	nan := math.NaN()
	for i := range points {
		points[i] = r3.Vector{X: nan, Y: nan, Z: nan}
	}
	spanX, spanY := hi.X-lo.X, hi.Y-lo.Y
	for _, s := range samples {
		col := cell(s.p.X-lo.X, spanX, d.width)
		// image rows run from +Y down
		row := cell(hi.Y-s.p.Y, spanY, d.height)
		idx := row*d.width + col
		if finite(points[idx]) && points[idx].Z >= s.p.Z {
			continue
		}
		points[idx] = s.p
		img.SetNRGBA(col, row, s.c)
	}
	return &Frame{Image: img, Points: points, Width: d.width, Height: d.height, Cloud: cloud}, nil
}

func cell(offset, span float64, n int) int {
	if span <= 0 {
		return 0
	}
	i := int(offset / span * float64(n))
	if i >= n {
		i = n - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}
