package inmemdb

import (
	"sync"

	"github.com/maktabahq/maktaba/core/attendance"
	"github.com/maktabahq/maktaba/core/simulation"
)

type (
	DB struct {
		sessions  *sessionTable
		registry  *registryTable
		scenarios *scenarioTable
		results   *resultTable
		devices   *deviceTable
	}

	sessionTable struct {
		sync.RWMutex
		table map[string]*attendance.Session
	}

	registryTable struct {
		sync.RWMutex
		// barcode -> id per code pool
		students  map[string]string
		books     map[string]string
		equipment map[string]string
		// insertion order, for deterministic synthetic code picks
		codes map[string][]string
	}

	scenarioTable struct {
		sync.RWMutex
		table map[string]*simulation.Scenario
	}

	resultTable struct {
		sync.RWMutex
		table map[string]*simulation.TestResult
	}

	deviceTable struct {
		sync.RWMutex
		table map[string]*simulation.Device
		order []string
	}
)

func Open() (*DB, error) {
	db := &DB{
		sessions: &sessionTable{table: make(map[string]*attendance.Session)},
		registry: &registryTable{
			students:  make(map[string]string),
			books:     make(map[string]string),
			equipment: make(map[string]string),
			codes:     make(map[string][]string),
		},
		scenarios: &scenarioTable{table: make(map[string]*simulation.Scenario)},
		results:   &resultTable{table: make(map[string]*simulation.TestResult)},
		devices:   &deviceTable{table: make(map[string]*simulation.Device)},
	}
	return db, nil
}
