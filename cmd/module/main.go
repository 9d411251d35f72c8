package main

import (
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/discovery"
	"go.viam.com/rdk/services/generic"

	plantscan "plant_scan"
)

func main() {
	module.ModularMain(
		resource.APIModel{API: generic.API, Model: plantscan.ScannerModel},
		resource.APIModel{API: sensor.API, Model: plantscan.TelemetrySensorModel},
		resource.APIModel{API: discovery.API, Model: plantscan.DiscoveryModel},
	)
}
