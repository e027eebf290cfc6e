package inmemdb

import (
	"context"

	"github.com/maktabahq/maktaba/core/scan"
	"github.com/maktabahq/maktaba/core/simulation"
)

type registryRepository struct {
	db *registryTable
}

func NewRegistryRepository(db *DB) *registryRepository {
	return &registryRepository{db: db.registry}
}

var (
	_ scan.Registry         = (*registryRepository)(nil)
	_ simulation.CodeSource = (*registryRepository)(nil)
)

func (repo *registryRepository) lookup(pool map[string]string, code string) (string, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if id, ok := pool[code]; ok {
		return id, nil
	}
	return "", scan.ErrNotFound
}

func (repo *registryRepository) StudentIDByCode(_ context.Context, code string) (string, error) {
	return repo.lookup(repo.db.students, code)
}

func (repo *registryRepository) BookIDByCode(_ context.Context, code string) (string, error) {
	return repo.lookup(repo.db.books, code)
}

func (repo *registryRepository) EquipmentIDByCode(_ context.Context, code string) (string, error) {
	return repo.lookup(repo.db.equipment, code)
}

// Code hands out registered codes round-robin per pool; synthetic traffic
// built from these always classifies.
func (repo *registryRepository) Code(dataType string) string {
	repo.db.Lock()
	defer repo.db.Unlock()

	codes := repo.db.codes[dataType]
	if len(codes) == 0 {
		return ""
	}
	code := codes[0]
	repo.db.codes[dataType] = append(codes[1:], code)
	return code
}

func (repo *registryRepository) seed(pool map[string]string, dataType, id, code string) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := pool[code]; !ok {
		repo.db.codes[dataType] = append(repo.db.codes[dataType], code)
	}
	pool[code] = id
}

func (repo *registryRepository) SeedStudent(id, code string) {
	repo.seed(repo.db.students, simulation.DataTypeStudent, id, code)
}

func (repo *registryRepository) SeedBook(id, code string) {
	repo.seed(repo.db.books, simulation.DataTypeBook, id, code)
}

func (repo *registryRepository) SeedEquipment(id, code string) {
	repo.seed(repo.db.equipment, simulation.DataTypeEquipment, id, code)
}
