package plant_scan

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/generic"

	"plant_scan/dobot"
	"plant_scan/perception"
	"plant_scan/scan"
)

var ScannerModel = resource.NewModel("devrel", "plantscan", "scanner")

func init() {
	resource.RegisterService(generic.API, ScannerModel,
		resource.Registration[resource.Resource, *Config]{
			Constructor: newScannerService,
		},
	)
}

type scannerService struct {
	resource.Named
	resource.AlwaysRebuild

	logger  logging.Logger
	scanner *Scanner
	sim     *dobot.Simulator
}

func newScannerService(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (resource.Resource, error) {
	conf, err := resource.NativeConfig[*Config](rawConf)
	if err != nil {
		return nil, err
	}
	return NewScannerService(ctx, deps, rawConf.ResourceName(), *conf, logger)
}

// NewScannerService builds the generic service wrapping a Scanner.
func NewScannerService(ctx context.Context, deps resource.Dependencies, name resource.Name, conf Config, logger logging.Logger) (resource.Resource, error) {
	dev, err := deviceFor(deps, conf)
	if err != nil {
		return nil, err
	}

	svc := &scannerService{Named: name.AsNamed(), logger: logger}
	if conf.Simulate {
		svc.sim = dobot.NewSimulator(logger.Sublogger("sim"))
		simCfg, err := svc.sim.Start("127.0.0.1")
		if err != nil {
			return nil, err
		}
		conf.Arm.Host = simCfg.Host
		conf.Arm.DashboardPort = simCfg.DashboardPort
		conf.Arm.MotionPort = simCfg.MotionPort
		conf.Arm.FeedbackPort = simCfg.FeedbackPort
	}

	svc.scanner, err = NewScanner(conf, dev, dobot.DefaultRegistry, logger)
	if err != nil {
		if svc.sim != nil {
			err = multierr.Append(err, svc.sim.Close())
		}
		return nil, err
	}
	logger.Infof("plant scanner ready (arm %s, camera %q, simulate %t)", conf.Arm.Host, conf.Camera, conf.Simulate)
	return svc, nil
}

// deviceFor picks the configured camera or, without one, the simulated bed.
func deviceFor(deps resource.Dependencies, conf Config) (perception.Device, error) {
	if conf.Camera == "" {
		return SimulatedBed(), nil
	}
	res, err := deps.Lookup(resource.NewName(camera.API, conf.Camera))
	if err != nil {
		return nil, errors.Wrapf(err, "camera %q", conf.Camera)
	}
	src, ok := res.(perception.CloudSource)
	if !ok {
		return nil, fmt.Errorf("camera %q does not provide point clouds", conf.Camera)
	}
	return perception.NewCloudDevice(src, conf.ImageWidth, conf.ImageHeight), nil
}

// SimulatedBed is a 600 x 600 mm bed in the first quadrant holding two plants.
func SimulatedBed() *perception.SimDevice {
	return perception.NewSimDevice(300, 300,
		r3.Vector{X: 0.1, Y: 0.1}, r3.Vector{X: 0.7, Y: 0.7},
		perception.SimPlant{Min: r3.Vector{X: 0.25, Y: 0.25, Z: 0}, Max: r3.Vector{X: 0.35, Y: 0.35, Z: 0.2}},
		perception.SimPlant{Min: r3.Vector{X: 0.45, Y: 0.15, Z: 0}, Max: r3.Vector{X: 0.60, Y: 0.25, Z: 0.12}},
	)
}

func (svc *scannerService) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	switch cmd["command"] {
	case "start":
		err := svc.scanner.Start(ctx)
		return map[string]interface{}{"success": err == nil}, err

	case "find_plants":
		plants, err := svc.scanner.FindPlants(ctx)
		if err != nil {
			return map[string]interface{}{"code": scan.CodeOf(err)}, err
		}
		list, err := toList(plants)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"code": scan.CodeOf(nil), "plants": list}, nil

	case "scan_plant":
		index := 0
		if v, ok := cmd["index"].(float64); ok {
			index = int(v)
		}
		name, _ := cmd["name"].(string)
		frames := 0
		if v, ok := cmd["frames"].(float64); ok {
			frames = int(v)
		}
		out, err := svc.scanner.ScanPlant(ctx, index, name, frames)
		// outcome codes are the operator-facing result, not transport errors
		return outcomeMap(out, err), nil

	case "wait_recording":
		err := svc.scanner.WaitRecording(ctx)
		res, merr := toMap(svc.scanner.Status().Recording)
		if merr != nil {
			return nil, merr
		}
		if err != nil {
			res["error"] = err.Error()
		}
		return res, nil

	case "abort":
		return map[string]interface{}{"aborted": svc.scanner.Abort()}, nil

	case "status":
		st := svc.scanner.Status()
		res, err := toMap(st)
		if err != nil {
			return nil, err
		}
		if st.Telemetry != nil {
			res["status_text"] = st.Telemetry.String()
		}
		res["available_commands"] = availableCommands(st)
		return res, nil

	case "stop":
		err := svc.scanner.Close(ctx)
		return map[string]interface{}{"success": err == nil}, err

	default:
		return nil, fmt.Errorf("unknown command: %v", cmd["command"])
	}
}

func availableCommands(st Status) []interface{} {
	if !st.Started {
		return []interface{}{"start", "status"}
	}
	if st.State != scan.Idle.String() {
		return []interface{}{"abort", "status"}
	}
	cmds := []interface{}{"find_plants", "status", "stop"}
	if len(st.Plants) > 0 && !st.Recording.Active {
		cmds = append(cmds, "scan_plant")
	}
	if st.Recording.Active {
		cmds = append(cmds, "wait_recording")
	}
	return cmds
}

func outcomeMap(out *scan.Outcome, err error) map[string]interface{} {
	res := map[string]interface{}{"code": scan.CodeOf(err)}
	if out != nil {
		if m, merr := toMap(out); merr == nil {
			res = m
			res["code"] = scan.CodeOf(err)
		}
		if out.Plan != nil {
			res["quadrant"] = out.Plan.Quadrant.String()
		}
	}
	if err != nil {
		res["error"] = err.Error()
		var aborted *scan.OrbitAbortedError
		if errors.As(err, &aborted) {
			res["aborted_at"] = string(aborted.Label)
		}
	}
	return res
}

// toMap converts a JSON-tagged struct into the plain map shape DoCommand results need.
func toMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func toList(v interface{}) ([]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var l []interface{}
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, err
	}
	return l, nil
}

func (svc *scannerService) Close(ctx context.Context) error {
	svc.logger.Info("closing plant scanner")
	err := svc.scanner.Close(ctx)
	if svc.sim != nil {
		err = multierr.Append(err, svc.sim.Close())
	}
	return err
}
