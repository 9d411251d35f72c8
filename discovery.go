package plant_scan

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/discovery"
	"go.viam.com/rdk/services/generic"

	"plant_scan/dobot"
)

var DiscoveryModel = resource.NewModel("devrel", "plantscan", "discovery")

func init() {
	resource.RegisterService(
		discovery.API,
		DiscoveryModel,
		resource.Registration[discovery.Service, *DiscoveryConfig]{
			Constructor: newDiscovery,
		})
}

// DiscoveryConfig lists the controller addresses to probe.
type DiscoveryConfig struct {
	Hosts         []string      `json:"hosts,omitempty"`
	DashboardPort int           `json:"dashboard_port,omitempty"`
	Timeout       time.Duration `json:"timeout,omitempty"`
}

func (cfg *DiscoveryConfig) Validate(path string) ([]string, []string, error) {
	if len(cfg.Hosts) == 0 {
		cfg.Hosts = []string{dobot.DefaultHost}
	}
	if cfg.DashboardPort == 0 {
		cfg.DashboardPort = 29999
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 500 * time.Millisecond
	}
	if cfg.DashboardPort < 1 || cfg.DashboardPort > 65535 {
		return nil, nil, fmt.Errorf("%s: dashboard_port must be between 1 and 65535", path)
	}
	return nil, nil, nil
}

type plantScanDiscovery struct {
	resource.Named
	resource.AlwaysRebuild
	resource.TriviallyCloseable
	cfg    DiscoveryConfig
	logger logging.Logger
}

func newDiscovery(
	ctx context.Context,
	deps resource.Dependencies,
	conf resource.Config,
	logger logging.Logger,
) (discovery.Service, error) {
	cfg, err := resource.NativeConfig[*DiscoveryConfig](conf)
	if err != nil {
		return nil, err
	}
	if _, _, err := cfg.Validate(conf.Name); err != nil {
		return nil, err
	}
	return &plantScanDiscovery{
		Named:  conf.ResourceName().AsNamed(),
		cfg:    *cfg,
		logger: logger,
	}, nil
}

// DiscoverResources probes each host's dashboard port and proposes a scanner and a
// telemetry sensor for every controller that answers.
func (dis *plantScanDiscovery) DiscoverResources(ctx context.Context, extra map[string]any) ([]resource.Config, error) {
	dis.logger.Info("Starting plant scanner discovery")

	var allConfigs []resource.Config
	for _, host := range dis.cfg.Hosts {
		select {
		case <-ctx.Done():
			dis.logger.Info("Discovery cancelled")
			return allConfigs, ctx.Err()
		default:
		}

		if !probeDashboard(ctx, host, dis.cfg.DashboardPort, dis.cfg.Timeout) {
			dis.logger.Debugf("No controller answering on %s:%d", host, dis.cfg.DashboardPort)
			continue
		}
		dis.logger.Infof("Discovered arm controller on %s", host)
		allConfigs = append(allConfigs, generateConfigs(host, dis.cfg.DashboardPort)...)
	}

	if len(allConfigs) == 0 {
		dis.logger.Info("No arm controllers discovered")
	}
	return allConfigs, nil
}

// probeDashboard reports whether host answers GetErrorID() with a well-formed reply.
func probeDashboard(ctx context.Context, host string, port int, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return false
		}
	}
	if _, err := fmt.Fprint(conn, "GetErrorID()"); err != nil {
		return false
	}
	buf := make([]byte, 256)
	var sb strings.Builder
	for !strings.Contains(sb.String(), ";") {
		n, err := conn.Read(buf)
		if err != nil {
			return false
		}
		sb.Write(buf[:n])
	}
	_, err = dobot.ParseReply(strings.TrimSpace(sb.String()))
	return err == nil
}

// generateConfigs creates the resource configs for one controller.
func generateConfigs(host string, dashboardPort int) []resource.Config {
	suffix := hostSuffix(host)
	arm := map[string]interface{}{"host": host}
	if dashboardPort != 29999 {
		arm["dashboard_port"] = dashboardPort
	}
	scannerName := "plant-scanner-" + suffix
	return []resource.Config{
		{
			Name:       scannerName,
			API:        generic.API,
			Model:      ScannerModel,
			Attributes: map[string]interface{}{"arm": arm},
		},
		{
			Name:       "plant-telemetry-" + suffix,
			API:        sensor.API,
			Model:      TelemetrySensorModel,
			Attributes: map[string]interface{}{"scanner": scannerName},
		},
	}
}

// hostSuffix turns a host into a resource-name friendly suffix
// 192.168.5.1 -> "192-168-5-1"
func hostSuffix(host string) string {
	return strings.NewReplacer(".", "-", ":", "-", "[", "", "]", "").Replace(host)
}
