package scan

import (
	"context"

	"github.com/pkg/errors"

	"plant_scan/dobot"
	"plant_scan/orbit"
	"plant_scan/perception"
	"plant_scan/pose"
)

// codeTable is checked in order; wrappers such as OrbitAborted come first.
var codeTable = []struct {
	err  error
	code string
}{
	{ErrOrbitAborted, "OrbitAborted"},
	{ErrBusy, "Busy"},
	{perception.ErrCameraBusy, "Busy"},
	{orbit.ErrNoPlant, "NoPlant"},
	{orbit.ErrBelowFloor, "BelowFloor"},
	{orbit.ErrOnAxis, "OnAxis"},
	{orbit.ErrNotImplemented, "NotImplemented"},
	{pose.ErrUnreachable, "Unreachable"},
	{dobot.ErrIKFallback, "IKFallback"},
	{dobot.ErrConnect, "ConnectError"},
	{perception.ErrCameraUnavailable, "CameraUnavailable"},
	{perception.ErrNoPlantsFound, "NoPlantsFound"},
	{pose.ErrBadArgument, "BadArgument"},
	{context.Canceled, "Cancelled"},
	{context.DeadlineExceeded, "Timeout"},
}

// CodeOf maps an error to the outcome code shown to the operator.
func CodeOf(err error) string {
	if err == nil {
		return "OK"
	}
	for _, c := range codeTable {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "Error"
}
