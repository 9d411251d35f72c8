package perception

import (
	"context"
	"image"
	"image/color"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/spatialmath"
)

// SimPlant is a box-shaped plant in workspace metres.
type SimPlant struct {
	Min r3.Vector
	Max r3.Vector
}

var (
	simLeaf = color.NRGBA{R: 46, G: 150, B: 52, A: 255}
	simSoil = color.NRGBA{R: 115, G: 85, B: 60, A: 255}
)

// SimDevice renders a top-down view of a flat bed with box-shaped plants. It stands
// in for the depth camera on benches without one.
type SimDevice struct {
	mu sync.Mutex

	Width, Height int
	AreaMin       r3.Vector // workspace XY window covered by the image, metres
	AreaMax       r3.Vector
	FloorZ        float64
	Plants        []SimPlant

	OpenErr error
	GrabErr error

	open      bool
	extrinsic spatialmath.Pose
	opens     int
	grabs     int
}

func NewSimDevice(width, height int, areaMin, areaMax r3.Vector, plants ...SimPlant) *SimDevice {
	return &SimDevice{
		Width:   width,
		Height:  height,
		AreaMin: areaMin,
		AreaMax: areaMax,
		Plants:  plants,
	}
}

func (d *SimDevice) Open(ctx context.Context, extrinsic spatialmath.Pose) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenErr != nil {
		return d.OpenErr
	}
	if d.open {
		return errors.New("sim device already open")
	}
	d.open = true
	d.extrinsic = extrinsic
	d.opens++
	return nil
}

func (d *SimDevice) Grab(ctx context.Context) (*Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return nil, errors.New("sim device not open")
	}
	if d.GrabErr != nil {
		return nil, d.GrabErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.grabs++

	img := image.NewNRGBA(image.Rect(0, 0, d.Width, d.Height))
	points := make([]r3.Vector, d.Width*d.Height)
	dx := (d.AreaMax.X - d.AreaMin.X) / float64(d.Width)
	dy := (d.AreaMax.Y - d.AreaMin.Y) / float64(d.Height)
	for y := 0; y < d.Height; y++ {
		for x := 0; x < d.Width; x++ {
			idx := y*d.Width + x
			wx := d.AreaMin.X + (float64(x)+0.5)*dx
			wy := d.AreaMax.Y - (float64(y)+0.5)*dy
			c, z := simSoil, d.FloorZ
			for _, p := range d.Plants {
				if wx >= p.Min.X && wx <= p.Max.X && wy >= p.Min.Y && wy <= p.Max.Y {
					// spread samples over the full plant height
					c = simLeaf
					z = p.Min.Z + (p.Max.Z-p.Min.Z)*float64((idx*7)%11)/10
					break
				}
			}
			img.SetNRGBA(x, y, c)
			points[idx] = r3.Vector{X: wx, Y: wy, Z: z}
		}
	}
	return &Frame{Image: img, Points: points, Width: d.Width, Height: d.Height}, nil
}

func (d *SimDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	return nil
}

// Extrinsic returns the pose hint passed to the last Open.
func (d *SimDevice) Extrinsic() spatialmath.Pose {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.extrinsic
}

// Counts reports how many times the device was opened and grabbed.
func (d *SimDevice) Counts() (opens, grabs int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens, d.grabs
}

func (d *SimDevice) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}
