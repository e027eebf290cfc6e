package simulation

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/maktabahq/maktaba/core"
)

var (
	// errors
	ErrScenarioNotFound = errors.New("test scenario not found")
	ErrTestNotFound     = errors.New("test run not found")
	ErrDeviceNotFound   = errors.New("simulated device not found")
	ErrTestRunning      = errors.New("test run is still active")
)

type ScenarioType string

const (
	ScenarioBasicScan        ScenarioType = "basic_scan"
	ScenarioDeviceSimulation ScenarioType = "device_simulation"
)

// Synthetic traffic data types; each maps to a registry code pool.
const (
	DataTypeStudent   = "student"
	DataTypeBook      = "book"
	DataTypeEquipment = "equipment"
)

type (
	// ScenarioConfig describes one batch of synthetic scan traffic.
	ScenarioConfig struct {
		ScanCount         int      `json:"scan_count" validate:"required,min=1"`
		ScanIntervalMs    int      `json:"scan_interval_ms" validate:"min=0"`
		DataTypes         []string `json:"data_types" validate:"omitempty,dive,oneof=student book equipment"`
		ErrorRate         float64  `json:"error_rate" validate:"min=0,max=1"`
		DuplicateRate     float64  `json:"duplicate_rate" validate:"min=0,max=1"`
		ConcurrentDevices int      `json:"concurrent_devices" validate:"min=0,max=256"`
	}

	Scenario struct {
		ID        string         `json:"id"`
		Name      string         `json:"name"`
		Type      ScenarioType   `json:"type"`
		Config    ScenarioConfig `json:"config"`
		CreatedAt time.Time      `json:"created_at"`
	}

	// NewScenario contains information needed to create a new Scenario.
	NewScenario struct {
		Name   string         `json:"name" validate:"required"`
		Type   ScenarioType   `json:"type" validate:"required,oneof=basic_scan device_simulation"`
		Config ScenarioConfig `json:"config"`
	}

	// Device is a synthetic scanner identity used as the DeviceID on
	// generated traffic.
	Device struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Kind     string `json:"kind"` // barcode_scanner | qr_camera
		Location string `json:"location"`
		Status   string `json:"status"` // online | offline
	}

	// UpdateDevice defines what metadata may be patched on a Device.
	UpdateDevice struct {
		Name     string `json:"name"`
		Location string `json:"location"`
		Status   string `json:"status" validate:"omitempty,oneof=online offline"`
	}

	// TestResult accumulates outcomes for one run. The counts invariant:
	// Success+Failed+Duplicate == TotalGenerated, and generators stop
	// recording the moment the run is stopped.
	TestResult struct {
		TestID         string    `json:"test_id"`
		ScenarioID     string    `json:"scenario_id"`
		StartedAt      time.Time `json:"started_at"`
		CompletedAt    time.Time `json:"completed_at,omitempty"`
		Status         string    `json:"status"` // running | completed | stopped
		TotalGenerated int       `json:"total_generated"`
		Success        int       `json:"success"`
		Failed         int       `json:"error"`
		Duplicate      int       `json:"duplicate"`

		AvgLatencyMs float64 `json:"avg_latency_ms"`
		MaxLatencyMs float64 `json:"max_latency_ms"`
		P95LatencyMs float64 `json:"p95_latency_ms"`

		latencies []time.Duration
	}

	// ScenarioStore / ResultStore / DeviceStore are explicitly constructed
	// and injected; harness state never lives in package-level registries.
	ScenarioStore interface {
		CreateScenario(ctx context.Context, sc Scenario) (Scenario, error)
		GetScenario(ctx context.Context, id string) (Scenario, error)
		QueryScenarios(ctx context.Context) ([]Scenario, error)
		DeleteScenario(ctx context.Context, id string) error
	}

	ResultStore interface {
		SaveResult(ctx context.Context, res TestResult) error
		GetResult(ctx context.Context, testID string) (TestResult, error)
		DeleteResult(ctx context.Context, testID string) error
	}

	DeviceStore interface {
		QueryDevices(ctx context.Context) ([]Device, error)
		GetDevice(ctx context.Context, id string) (Device, error)
		SaveDevice(ctx context.Context, dev Device) (Device, error)
	}

	// CodeSource supplies registered codes for synthetic traffic so that
	// well-formed events classify successfully.
	CodeSource interface {
		Code(dataType string) string
	}
)

func (ns *NewScenario) Validate(validate *validator.Validate) error {
	ns.Name = core.CleanString(ns.Name)
	if err := validate.Struct(ns); err != nil {
		return err
	}
	// defaults
	if ns.Config.ConcurrentDevices == 0 {
		ns.Config.ConcurrentDevices = 1
	}
	if len(ns.Config.DataTypes) == 0 {
		ns.Config.DataTypes = []string{DataTypeStudent}
	}
	if ns.Config.ConcurrentDevices > ns.Config.ScanCount {
		ns.Config.ConcurrentDevices = ns.Config.ScanCount
	}
	return nil
}

func (ud *UpdateDevice) Validate(validate *validator.Validate) error {
	ud.Name = core.CleanString(ud.Name)
	ud.Location = core.CleanString(ud.Location)
	ud.Status = core.CleanString(ud.Status, true /* lower */)
	return validate.Struct(ud)
}

func (c ScenarioConfig) Interval() time.Duration {
	return time.Duration(c.ScanIntervalMs) * time.Millisecond
}
