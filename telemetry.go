package plant_scan

import (
	"context"
	"fmt"

	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/generic"

	"plant_scan/dobot"
)

var TelemetrySensorModel = resource.NewModel("devrel", "plantscan", "telemetry")

func init() {
	resource.RegisterComponent(sensor.API, TelemetrySensorModel,
		resource.Registration[sensor.Sensor, *TelemetryConfig]{
			Constructor: newTelemetrySensor,
		},
	)
}

// TelemetryConfig points the sensor at a scanner service.
type TelemetryConfig struct {
	Scanner string `json:"scanner"`
}

func (cfg *TelemetryConfig) Validate(path string) ([]string, []string, error) {
	if cfg.Scanner == "" {
		return nil, nil, fmt.Errorf("%s: must specify scanner", path)
	}
	return []string{cfg.Scanner}, nil, nil
}

// telemetrySensor exposes the feedback pane of a scanner as sensor readings.
type telemetrySensor struct {
	resource.Named
	resource.AlwaysRebuild
	resource.TriviallyCloseable

	scanner resource.Resource
	alarms  *dobot.AlarmTable
	logger  logging.Logger
}

func newTelemetrySensor(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (sensor.Sensor, error) {
	conf, err := resource.NativeConfig[*TelemetryConfig](rawConf)
	if err != nil {
		return nil, err
	}
	scanner, err := deps.Lookup(resource.NewName(generic.API, conf.Scanner))
	if err != nil {
		return nil, fmt.Errorf("scanner %q: %w", conf.Scanner, err)
	}
	return NewTelemetrySensor(rawConf.ResourceName(), scanner, logger)
}

// NewTelemetrySensor reads status from any resource answering the scanner's "status" command.
func NewTelemetrySensor(name resource.Name, scanner resource.Resource, logger logging.Logger) (sensor.Sensor, error) {
	alarms, err := dobot.DefaultAlarmTable()
	if err != nil {
		return nil, err
	}
	return &telemetrySensor{Named: name.AsNamed(), scanner: scanner, alarms: alarms, logger: logger}, nil
}

// Readings flattens the scanner status into telemetry fields.
func (ts *telemetrySensor) Readings(ctx context.Context, extra map[string]any) (map[string]any, error) {
	status, err := ts.scanner.DoCommand(ctx, map[string]any{"command": "status"})
	if err != nil {
		return nil, err
	}

	readings := map[string]any{
		"started": status["started"],
		"state":   status["state"],
	}
	if rec, ok := status["recording"].(map[string]any); ok {
		readings["recording_active"] = rec["active"]
		readings["recording_name"] = rec["name"]
	}
	if tel, ok := status["telemetry"].(map[string]any); ok {
		for _, key := range []string{"mode", "enabled", "error_state", "queued_cmd", "joints", "tool_vector"} {
			readings[key] = tel[key]
		}
	}
	if text, ok := status["status_text"].(string); ok {
		readings["status_text"] = text
	}

	var alarms []any
	if list, ok := status["alarms"].([]any); ok {
		for _, a := range list {
			if m, ok := a.(map[string]any); ok {
				alarms = append(alarms, fmt.Sprintf("%v alarm %v: %v", m["source"], m["id"], m["description"]))
			}
		}
	}
	readings["alarms"] = alarms
	return readings, nil
}

// DoCommand describes alarm ids without touching the arm.
func (ts *telemetrySensor) DoCommand(ctx context.Context, cmd map[string]any) (map[string]any, error) {
	switch cmd["command"] {
	case "describe_alarm":
		id, ok := cmd["id"].(float64)
		if !ok {
			return nil, fmt.Errorf("describe_alarm command requires numeric 'id' parameter")
		}
		a := ts.alarms.Describe(int(id))
		return map[string]any{
			"id":          a.ID,
			"source":      string(a.Source),
			"description": a.Description,
			"solution":    a.Solution,
			"recoverable": a.Recoverable,
			"text":        a.String(),
		}, nil
	default:
		return nil, fmt.Errorf("unknown command: %v", cmd["command"])
	}
}
