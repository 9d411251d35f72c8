// Package perception turns depth-camera frames into plant boxes and point-cloud recordings.
// Everything it returns is in millimetres.
package perception

import (
	"context"
	"image/color"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/pointcloud"
	"go.viam.com/rdk/spatialmath"

	"plant_scan/bbox"
	"plant_scan/pose"
)

// Plant is one segmented plant, indexed in segmenter order.
type Plant struct {
	Index  int         `json:"index"`
	Box    bbox.Corner `json:"box"`
	Format bbox.Format `json:"format"`
	Packed bbox.Packed `json:"packed"`
}

// PoseSource reports where the camera is while recording. The arm's tool pose serves.
type PoseSource interface {
	CurrentPose(ctx context.Context) (pose.Coord6, error)
}

// Perception is the single entry point for plant detection and recording.
type Perception struct {
	cam    *Camera
	cfg    Config
	logger logging.Logger

	mu    sync.Mutex
	poses PoseSource
}

func New(cam *Camera, cfg Config, logger logging.Logger) (*Perception, error) {
	if _, _, err := cfg.Validate("perception"); err != nil {
		return nil, err
	}
	return &Perception{cam: cam, cfg: cfg, logger: logger}, nil
}

func (p *Perception) Camera() *Camera {
	return p.cam
}

// SetPoseSource sets where recorded clouds are placed from. With none they stay
// in the camera frame.
func (p *Perception) SetPoseSource(src PoseSource) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.poses = src
}

func (p *Perception) poseSource() PoseSource {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.poses
}

// FindPlants captures one frame from hint and returns up to n plant boxes in mm.
// The camera is closed before returning, whatever the outcome.
func (p *Perception) FindPlants(ctx context.Context, hint pose.Pose, n int, format bbox.Format) (plants []Plant, err error) {
	if n < 1 {
		return nil, errors.Wrapf(pose.ErrBadArgument, "plant count must be at least 1, got %d", n)
	}
	if _, perr := bbox.Pack(bbox.Corner{}, format); perr != nil {
		return nil, perr
	}

	defer func() {
		if cerr := p.cam.Close(); cerr != nil {
			err = multierr.Append(err, cerr)
		}
	}()
	if err := p.cam.Open(ctx, hint.SpatialPose()); err != nil {
		return nil, err
	}
	frame, err := p.cam.Capture(ctx)
	if err != nil {
		return nil, err
	}

	boxes, err := SegmentBoxes(frame, n, p.cfg)
	if err != nil {
		return nil, err
	}

	plants = make([]Plant, 0, len(boxes))
	for i, b := range boxes {
		mm, err := bbox.Scale(b, bbox.MetresToMillimetres)
		if err != nil {
			return nil, err
		}
		packed, err := bbox.Pack(mm, format)
		if err != nil {
			return nil, err
		}
		plants = append(plants, Plant{Index: i, Box: mm, Format: format, Packed: packed})
		p.logger.Infof("plant %d: %s", i, mm)
	}
	p.logger.Infof("found %d plant(s)", len(plants))
	return plants, nil
}

// Record captures frames frames into one cloud and writes <RecordingsDir>/<name>.pcd.
// It returns the artefact path; on failure the artefact may hold a partial cloud.
func (p *Perception) Record(ctx context.Context, name string, frames int) (string, error) {
	if name == "" {
		return "", errors.Wrap(pose.ErrBadArgument, "recording name is empty")
	}
	if frames < 1 {
		return "", errors.Wrapf(pose.ErrBadArgument, "frame count must be at least 1, got %d", frames)
	}
	if err := os.MkdirAll(p.cfg.RecordingsDir, 0o755); err != nil {
		return "", errors.Wrap(err, "recordings dir")
	}
	path := filepath.Join(p.cfg.RecordingsDir, filepath.Base(name)+".pcd")

	p.logger.Infof("recording %d frames to %s", frames, path)
	cloud, recErr := p.capture(ctx, frames)
	if err := writePCD(cloud, path); err != nil {
		return "", multierr.Combine(recErr, err)
	}
	if recErr != nil {
		return path, recErr
	}
	p.logger.Infof("recording %s done: %d points", path, cloud.Size())
	return path, nil
}

// capture merges frames frames into one cloud in millimetres. Raw clouds are placed
// with the pose reported for each frame; the cloud gathered so far is returned on error.
func (p *Perception) capture(ctx context.Context, frames int) (pointcloud.PointCloud, error) {
	cloud := pointcloud.NewBasicEmpty()
	src := p.poseSource()
	err := p.cam.Record(ctx, frames, func(i int, f *Frame) error {
		if f == nil || f.Cloud == nil {
			return accumulate(cloud, f)
		}
		at := spatialmath.NewZeroPose()
		if src != nil {
			c, err := src.CurrentPose(ctx)
			if err != nil {
				return errors.Wrapf(err, "camera pose for frame %d", i)
			}
			at = pose.FromEuler(c).SpatialPose()
		}
		return merge(cloud, f.Cloud, at)
	})
	return cloud, err
}

var untextured = color.NRGBA{R: 128, G: 128, B: 128, A: 255}

// merge adds every finite point of src, moved by at, to dst.
func merge(dst, src pointcloud.PointCloud, at spatialmath.Pose) error {
	var err error
	src.Iterate(0, 0, func(pt r3.Vector, data pointcloud.Data) bool {
		pt = spatialmath.Compose(at, spatialmath.NewPoseFromPoint(pt)).Point()
		if !finite(pt) {
			return true
		}
		if data == nil {
			data = pointcloud.NewColoredData(untextured)
		}
		err = dst.Set(pt, data)
		return err == nil
	})
	return err
}

// accumulate adds the valid points of f to cloud, coloured from the image and in mm.
func accumulate(cloud pointcloud.PointCloud, f *Frame) error {
	if f == nil || len(f.Points) != f.Width*f.Height {
		return errors.Wrap(ErrCameraUnavailable, "malformed frame")
	}
	for idx, pt := range f.Points {
		if !finite(pt) {
			continue
		}
		c := untextured
		if f.Image != nil {
			b := f.Image.Bounds()
			c = color.NRGBAModel.Convert(f.Image.At(b.Min.X+idx%f.Width, b.Min.Y+idx/f.Width)).(color.NRGBA)
		}
		if err := cloud.Set(pt.Mul(bbox.MetresToMillimetres), pointcloud.NewColoredData(c)); err != nil {
			return err
		}
	}
	return nil
}

func writePCD(cloud pointcloud.PointCloud, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create pcd")
	}
	defer file.Close()
	if err := pointcloud.ToPCD(cloud, file, pointcloud.PCDBinary); err != nil {
		return errors.Wrap(err, "write pcd")
	}
	return nil
}
