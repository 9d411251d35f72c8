package perception

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/pointcloud"
	"go.viam.com/rdk/spatialmath"
)

var (
	ErrCameraUnavailable = errors.New("camera unavailable")
	ErrCameraBusy        = errors.New("camera busy")
)

// Frame is one synchronised colour image plus an organised point grid in metres,
// row-major with Width*Height entries. Pixels without depth hold NaN coordinates.
//
// Devices on the end-effector also hand over the raw cloud they rasterised, in
// millimetres in the camera frame. Devices without one report a grid that is
// already in the workspace frame.
type Frame struct {
	Image  image.Image
	Points []r3.Vector
	Width  int
	Height int
	Cloud  pointcloud.PointCloud
}

// Device is a depth camera driver. Points are reported in the workspace frame,
// which the driver derives from the extrinsic given to Open.
type Device interface {
	Open(ctx context.Context, extrinsic spatialmath.Pose) error
	Grab(ctx context.Context) (*Frame, error)
	Close() error
}

type State int

const (
	Closed State = iota
	Open
	Capturing
	Recording
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case Capturing:
		return "capturing"
	case Recording:
		return "recording"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Camera owns a Device and enforces one user at a time.
type Camera struct {
	mu     sync.Mutex
	dev    Device
	state  State
	logger logging.Logger
}

func NewCamera(dev Device, logger logging.Logger) *Camera {
	return &Camera{dev: dev, logger: logger}
}

func (c *Camera) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Open initialises the device with extrinsic as pose hint. Opening an open camera is a no-op.
func (c *Camera) Open(ctx context.Context, extrinsic spatialmath.Pose) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case Open:
		return nil
	case Capturing, Recording:
		return errors.Wrapf(ErrCameraBusy, "camera is %s", c.state)
	}
	if extrinsic == nil {
		extrinsic = spatialmath.NewZeroPose()
	}
	if err := c.dev.Open(ctx, extrinsic); err != nil {
		return errors.Wrapf(ErrCameraUnavailable, "open: %v", err)
	}
	c.state = Open
	c.logger.Debug("camera opened")
	return nil
}

// Capture grabs one frame from an open camera.
func (c *Camera) Capture(ctx context.Context) (*Frame, error) {
	c.mu.Lock()
	if c.state != Open {
		st := c.state
		c.mu.Unlock()
		if st == Closed {
			return nil, errors.Wrap(ErrCameraUnavailable, "camera not open")
		}
		return nil, errors.Wrapf(ErrCameraBusy, "camera is %s", st)
	}
	c.state = Capturing
	c.mu.Unlock()

	frame, err := c.dev.Grab(ctx)

	c.mu.Lock()
	c.state = Open
	c.mu.Unlock()
	if err != nil {
		return nil, errors.Wrapf(ErrCameraUnavailable, "grab: %v", err)
	}
	return frame, nil
}

// Close releases the device unless a capture or recording owns it.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case Closed:
		return nil
	case Capturing, Recording:
		return errors.Wrapf(ErrCameraBusy, "camera is %s", c.state)
	}
	c.state = Closed
	c.logger.Debug("camera closed")
	return c.dev.Close()
}

// Record opens its own session on the device, hands frames grabbed frames to sink
// and closes the device again. The camera moves while recording, so the device is
// opened without an extrinsic and each frame is placed by the sink.
func (c *Camera) Record(ctx context.Context, frames int, sink func(i int, f *Frame) error) (err error) {
	c.mu.Lock()
	if c.state != Closed {
		st := c.state
		c.mu.Unlock()
		return errors.Wrapf(ErrCameraBusy, "camera is %s", st)
	}
	if oerr := c.dev.Open(ctx, spatialmath.NewZeroPose()); oerr != nil {
		c.mu.Unlock()
		return errors.Wrapf(ErrCameraUnavailable, "open for recording: %v", oerr)
	}
	c.state = Recording
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.state = Closed
		c.mu.Unlock()
		if cerr := c.dev.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	for i := 0; i < frames; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, err := c.dev.Grab(ctx)
		if err != nil {
			return errors.Wrapf(ErrCameraUnavailable, "frame %d: %v", i, err)
		}
		if err := sink(i, f); err != nil {
			return err
		}
	}
	return nil
}
