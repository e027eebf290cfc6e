package simulation

import (
	"testing"

	"github.com/go-playground/validator/v10"
)

func TestNewScenarioValidate(t *testing.T) {
	validate := validator.New()

	ns := NewScenario{
		Name:   "smoke",
		Type:   ScenarioBasicScan,
		Config: ScenarioConfig{ScanCount: 3},
	}
	if err := ns.Validate(validate); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	// zero devices means one device, not a rejected scenario
	if ns.Config.ConcurrentDevices != 1 {
		t.Errorf("ConcurrentDevices = %d, want 1", ns.Config.ConcurrentDevices)
	}
	if len(ns.Config.DataTypes) != 1 || ns.Config.DataTypes[0] != DataTypeStudent {
		t.Errorf("DataTypes = %v, want [%s]", ns.Config.DataTypes, DataTypeStudent)
	}

	// more devices than scans clamps to the scan budget
	ns = NewScenario{
		Name:   "tiny",
		Type:   ScenarioBasicScan,
		Config: ScenarioConfig{ScanCount: 2, ConcurrentDevices: 8},
	}
	if err := ns.Validate(validate); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if ns.Config.ConcurrentDevices != 2 {
		t.Errorf("ConcurrentDevices = %d, want 2", ns.Config.ConcurrentDevices)
	}

	invalid := []NewScenario{
		{Name: "no scans", Type: ScenarioBasicScan},
		{Name: "bad rate", Type: ScenarioBasicScan, Config: ScenarioConfig{ScanCount: 3, ErrorRate: 1.5}},
		{Name: "bad type", Type: "warp_speed", Config: ScenarioConfig{ScanCount: 3}},
	}
	for _, ns := range invalid {
		if err := ns.Validate(validate); err == nil {
			t.Errorf("Validate() accepted %q", ns.Name)
		}
	}
}
