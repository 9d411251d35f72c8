package plant_scan

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/discovery"
	"go.viam.com/rdk/services/generic"

	"plant_scan/dobot"
)

func TestHostSuffix(t *testing.T) {
	tests := []struct {
		host     string
		expected string
	}{
		{"192.168.5.1", "192-168-5-1"},
		{"arm.local", "arm-local"},
		{"[::1]", "--1"},
		{"cell", "cell"},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			assert.Equal(t, tt.expected, hostSuffix(tt.host))
		})
	}
}

func TestGenerateConfigs(t *testing.T) {
	configs := generateConfigs("192.168.5.1", 29999)
	require.Len(t, configs, 2)

	assert.Equal(t, "plant-scanner-192-168-5-1", configs[0].Name)
	assert.Equal(t, generic.API, configs[0].API)
	assert.Equal(t, ScannerModel, configs[0].Model)
	assert.Equal(t, map[string]interface{}{"host": "192.168.5.1"}, configs[0].Attributes["arm"])

	assert.Equal(t, sensor.API, configs[1].API)
	assert.Equal(t, TelemetrySensorModel, configs[1].Model)
	assert.Equal(t, "plant-scanner-192-168-5-1", configs[1].Attributes["scanner"])

	configs = generateConfigs("10.0.0.2", 4000)
	assert.Equal(t, 4000, configs[0].Attributes["arm"].(map[string]interface{})["dashboard_port"])
}

func TestDiscoverResources(t *testing.T) {
	sim := dobot.NewSimulator(logging.NewTestLogger(t))
	simCfg, err := sim.Start("127.0.0.1")
	require.NoError(t, err)
	defer sim.Close()

	// a port nobody listens on
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadPort := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	assert.True(t, probeDashboard(context.Background(), "127.0.0.1", simCfg.DashboardPort, time.Second))
	assert.False(t, probeDashboard(context.Background(), "127.0.0.1", deadPort, 200*time.Millisecond))

	cfg := DiscoveryConfig{Hosts: []string{"127.0.0.1"}, DashboardPort: simCfg.DashboardPort}
	_, _, err = cfg.Validate("discovery")
	require.NoError(t, err)
	dis := &plantScanDiscovery{
		Named:  resource.NewName(discovery.API, "d").AsNamed(),
		cfg:    cfg,
		logger: logging.NewTestLogger(t),
	}
	configs, err := dis.DiscoverResources(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, configs, 2)
	assert.Equal(t, "plant-scanner-127-0-0-1", configs[0].Name)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = dis.DiscoverResources(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDiscoveryConfigDefaults(t *testing.T) {
	cfg := DiscoveryConfig{}
	_, _, err := cfg.Validate("discovery")
	require.NoError(t, err)
	assert.Equal(t, []string{dobot.DefaultHost}, cfg.Hosts)
	assert.Equal(t, 29999, cfg.DashboardPort)

	bad := DiscoveryConfig{DashboardPort: -3}
	_, _, err = bad.Validate("discovery")
	assert.Error(t, err)
}
