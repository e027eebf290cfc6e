package sqlxrepos

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/maktabahq/maktaba/core/scan"
	"github.com/maktabahq/maktaba/core/simulation"
)

// registryRepository reads the externally-owned identity tables to resolve
// scanned barcodes. Lookups only; registry CRUD lives elsewhere.
type registryRepository struct {
	db *sqlx.DB
}

var (
	_ scan.Registry         = (*registryRepository)(nil)
	_ simulation.CodeSource = (*registryRepository)(nil)
)

func NewRegistryRepository(db *sqlx.DB) *registryRepository {
	return &registryRepository{db: db}
}

func (repo registryRepository) idByCode(ctx context.Context, table, code string) (string, error) {
	var id string
	// table is one of our three constants, never user input
	err := repo.db.GetContext(ctx, &id, `SELECT id FROM `+table+` WHERE barcode = $1`, code)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", scan.ErrNotFound
		}
		return "", errors.Wrapf(err, "looking up %s barcode", table)
	}
	return id, nil
}

func (repo registryRepository) StudentIDByCode(ctx context.Context, code string) (string, error) {
	return repo.idByCode(ctx, "students", code)
}

func (repo registryRepository) BookIDByCode(ctx context.Context, code string) (string, error) {
	return repo.idByCode(ctx, "books", code)
}

func (repo registryRepository) EquipmentIDByCode(ctx context.Context, code string) (string, error) {
	return repo.idByCode(ctx, "equipment", code)
}

// Code picks a registered barcode at random so synthetic traffic
// classifies. Empty string when the pool is empty.
func (repo registryRepository) Code(dataType string) string {
	table := "students"
	switch dataType {
	case simulation.DataTypeBook:
		table = "books"
	case simulation.DataTypeEquipment:
		table = "equipment"
	}

	var code string
	err := repo.db.Get(&code, `SELECT barcode FROM `+table+` ORDER BY random() LIMIT 1`)
	if err != nil {
		return ""
	}
	return code
}
