package inmemdb

import (
	"context"
	"fmt"
	"sort"

	"github.com/maktabahq/maktaba/core/simulation"
)

type scenarioRepository struct {
	db *scenarioTable
}

func NewScenarioRepository(db *DB) simulation.ScenarioStore {
	return &scenarioRepository{db: db.scenarios}
}

func (repo *scenarioRepository) CreateScenario(_ context.Context, sc simulation.Scenario) (simulation.Scenario, error) {
	repo.db.Lock()
	defer repo.db.Unlock()
	repo.db.table[sc.ID] = &sc
	return sc, nil
}

func (repo *scenarioRepository) GetScenario(_ context.Context, id string) (simulation.Scenario, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if sc, ok := repo.db.table[id]; ok {
		return *sc, nil
	}
	return simulation.Scenario{}, simulation.ErrScenarioNotFound
}

func (repo *scenarioRepository) QueryScenarios(_ context.Context) ([]simulation.Scenario, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	scenarios := make([]simulation.Scenario, 0, len(repo.db.table))
	for _, sc := range repo.db.table {
		scenarios = append(scenarios, *sc)
	}
	sort.Slice(scenarios, func(i, j int) bool { return scenarios[i].CreatedAt.Before(scenarios[j].CreatedAt) })
	return scenarios, nil
}

func (repo *scenarioRepository) DeleteScenario(_ context.Context, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[id]; !ok {
		return simulation.ErrScenarioNotFound
	}
	delete(repo.db.table, id)
	return nil
}

type resultRepository struct {
	db *resultTable
}

func NewResultRepository(db *DB) simulation.ResultStore {
	return &resultRepository{db: db.results}
}

func (repo *resultRepository) SaveResult(_ context.Context, res simulation.TestResult) error {
	repo.db.Lock()
	defer repo.db.Unlock()
	repo.db.table[res.TestID] = &res
	return nil
}

func (repo *resultRepository) GetResult(_ context.Context, testID string) (simulation.TestResult, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if res, ok := repo.db.table[testID]; ok {
		return *res, nil
	}
	return simulation.TestResult{}, simulation.ErrTestNotFound
}

func (repo *resultRepository) DeleteResult(_ context.Context, testID string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[testID]; !ok {
		return simulation.ErrTestNotFound
	}
	delete(repo.db.table, testID)
	return nil
}

type deviceRepository struct {
	db *deviceTable
}

var _ simulation.DeviceStore = (*deviceRepository)(nil)

func NewDeviceRepository(db *DB) *deviceRepository {
	return &deviceRepository{db: db.devices}
}

// SeedDefaultDevices registers a small fleet so a fresh deployment has
// device identities to attach synthetic traffic to.
func (repo *deviceRepository) SeedDefaultDevices() {
	repo.db.Lock()
	defer repo.db.Unlock()

	for i, kind := range []string{"barcode_scanner", "barcode_scanner", "qr_camera"} {
		id := fmt.Sprintf("sim-device-%02d", i+1)
		if _, ok := repo.db.table[id]; ok {
			continue
		}
		repo.db.table[id] = &simulation.Device{
			ID:       id,
			Name:     fmt.Sprintf("Simulated scanner %d", i+1),
			Kind:     kind,
			Location: "main entrance",
			Status:   "online",
		}
		repo.db.order = append(repo.db.order, id)
	}
}

func (repo *deviceRepository) QueryDevices(_ context.Context) ([]simulation.Device, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	devices := make([]simulation.Device, 0, len(repo.db.order))
	for _, id := range repo.db.order {
		if dev, ok := repo.db.table[id]; ok {
			devices = append(devices, *dev)
		}
	}
	return devices, nil
}

func (repo *deviceRepository) GetDevice(_ context.Context, id string) (simulation.Device, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if dev, ok := repo.db.table[id]; ok {
		return *dev, nil
	}
	return simulation.Device{}, simulation.ErrDeviceNotFound
}

func (repo *deviceRepository) SaveDevice(_ context.Context, dev simulation.Device) (simulation.Device, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[dev.ID]; !ok {
		repo.db.order = append(repo.db.order, dev.ID)
	}
	repo.db.table[dev.ID] = &dev
	return dev, nil
}
