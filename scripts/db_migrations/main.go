package main

import (
	"github.com/sirupsen/logrus"

	server_config "github.com/carson-networks/ledger-server/internal/config"
	"github.com/carson-networks/ledger-server/internal/storage/postgres"
)

func main() {
	env, err := server_config.ProcessEnvironmentVariables()
	if err != nil {
		logrus.WithError(err).Fatal("ProcessEnvironmentVariables")
		return
	}

	store, err := postgres.Open(postgres.DSN(
		env.PostgresAddress,
		env.PostgresPort,
		env.PostgresDB,
		env.PostgresUsername,
		env.PostgresPassword,
	), postgres.Options{})
	if err != nil {
		logrus.WithError(err).Fatal("postgres.Open")
		return
	}
	defer store.Close()

	preMigrationVersion, postMigrationVersion, err := store.Migrate("file://migrations")
	if err != nil {
		logrus.WithError(err).Fatal("postgres.Migrate")
		return
	}

	logrus.WithFields(logrus.Fields{
		"preMigrationVersion":  preMigrationVersion,
		"postMigrationVersion": postMigrationVersion,
	}).Info("Migration status")
}
