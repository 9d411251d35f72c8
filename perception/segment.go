package perception

import (
	"image"
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"go.viam.com/rdk/pointcloud"

	"plant_scan/bbox"
)

var ErrNoPlantsFound = errors.New("plant segmentation failed")

// Mask is a binary image of plant pixels.
type Mask struct {
	Width, Height int
	bits          []bool
}

func (m *Mask) At(x, y int) bool {
	return m.bits[y*m.Width+x]
}

func (m *Mask) Count() int {
	n := 0
	for _, b := range m.bits {
		if b {
			n++
		}
	}
	return n
}

// PlantMask marks pixels whose HSV colour falls in the configured vegetation band.
func PlantMask(img image.Image, cfg Config) (*Mask, error) {
	if img == nil {
		return nil, errors.Wrap(ErrNoPlantsFound, "no image")
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, errors.Wrap(ErrNoPlantsFound, "empty image")
	}
	m := &Mask{Width: b.Dx(), Height: b.Dy(), bits: make([]bool, b.Dx()*b.Dy())}
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			c, ok := colorful.MakeColor(img.At(b.Min.X+x, b.Min.Y+y))
			if !ok {
				continue
			}
			h, s, v := c.Hsv()
			m.bits[y*m.Width+x] = h >= cfg.HueMin && h <= cfg.HueMax && s >= cfg.MinSaturation && v >= cfg.MinValue
		}
	}
	return m, nil
}

// Components labels 8-connected regions of at least minPixels pixels. Regions are
// returned in raster discovery order as lists of pixel indices.
func Components(m *Mask, minPixels int) [][]int {
	visited := make([]bool, len(m.bits))
	var out [][]int
	queue := make([]int, 0, 64)
	for start, set := range m.bits {
		if !set || visited[start] {
			continue
		}
		visited[start] = true
		queue = append(queue[:0], start)
		var region []int
		for len(queue) > 0 {
			idx := queue[0]
			queue = queue[1:]
			region = append(region, idx)
			x, y := idx%m.Width, idx/m.Width
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= m.Width || ny >= m.Height {
						continue
					}
					n := ny*m.Width + nx
					if m.bits[n] && !visited[n] {
						visited[n] = true
						queue = append(queue, n)
					}
				}
			}
		}
		if len(region) >= minPixels {
			out = append(out, region)
		}
	}
	return out
}

// largest returns the indices of the n biggest sizes in their original order.
func largest(sizes []int, n int) []int {
	order := make([]int, len(sizes))
	for i := range order {
		order[i] = i
	}
	if len(sizes) <= n {
		return order
	}
	sort.SliceStable(order, func(a, b int) bool {
		return sizes[order[a]] > sizes[order[b]]
	})
	keep := order[:n]
	sort.Ints(keep)
	return keep
}

// clusterClouds lifts each pixel region into a point cloud of its valid 3D points.
func clusterClouds(f *Frame, regions [][]int) ([]pointcloud.PointCloud, error) {
	clouds := make([]pointcloud.PointCloud, 0, len(regions))
	for _, region := range regions {
		pc := pointcloud.NewBasicEmpty()
		for _, idx := range region {
			p := f.Points[idx]
			if !finite(p) {
				continue
			}
			if err := pc.Set(p, nil); err != nil {
				return nil, err
			}
		}
		clouds = append(clouds, pc)
	}
	return clouds, nil
}

// cloudBounds is the AABB of a non-empty cloud.
func cloudBounds(pc pointcloud.PointCloud) (bbox.Corner, bool) {
	if pc.Size() == 0 {
		return bbox.Corner{}, false
	}
	lo := r3.Vector{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	hi := r3.Vector{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	pc.Iterate(0, 0, func(p r3.Vector, _ pointcloud.Data) bool {
		lo = r3.Vector{X: math.Min(lo.X, p.X), Y: math.Min(lo.Y, p.Y), Z: math.Min(lo.Z, p.Z)}
		hi = r3.Vector{X: math.Max(hi.X, p.X), Y: math.Max(hi.Y, p.Y), Z: math.Max(hi.Z, p.Z)}
		return true
	})
	return bbox.Corner{Min: lo, Max: hi}, true
}

// SegmentBoxes runs mask, clustering and box extraction on one frame. Boxes are in metres.
func SegmentBoxes(f *Frame, n int, cfg Config) ([]bbox.Corner, error) {
	if f == nil || f.Width <= 0 || f.Height <= 0 || len(f.Points) != f.Width*f.Height {
		return nil, errors.Wrap(ErrNoPlantsFound, "frame geometry does not match point grid")
	}
	mask, err := PlantMask(f.Image, cfg)
	if err != nil {
		return nil, err
	}
	if mask.Width != f.Width || mask.Height != f.Height {
		return nil, errors.Wrapf(ErrNoPlantsFound, "mask %dx%d does not match frame %dx%d",
			mask.Width, mask.Height, f.Width, f.Height)
	}

	regions := Components(mask, cfg.MinClusterPixels)
	clouds, err := clusterClouds(f, regions)
	if err != nil {
		return nil, err
	}

	// sparse clusters are dropped before the n largest are picked
	var (
		dense []pointcloud.PointCloud
		sizes []int
	)
	for i, pc := range clouds {
		if pc.Size() == 0 || pc.Size() < cfg.MinClusterPoints {
			continue
		}
		dense = append(dense, pc)
		sizes = append(sizes, len(regions[i]))
	}

	boxes := make([]bbox.Corner, 0, n)
	for _, i := range largest(sizes, n) {
		if box, ok := cloudBounds(dense[i]); ok {
			boxes = append(boxes, box)
		}
	}
	return boxes, nil
}

func finite(p r3.Vector) bool {
	for _, v := range []float64{p.X, p.Y, p.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
