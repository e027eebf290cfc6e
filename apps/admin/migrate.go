package main

import (
	"github.com/maktabahq/maktaba/storage/database"
)

func (cli *commandLine) createDB() error {
	return database.CreateIfNotExist(cli.conf)
}

func (cli *commandLine) migrate() error {
	db, err := database.Open(cli.conf)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	return database.Migrate(db)
}
