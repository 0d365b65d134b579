package main

import (
	"context"
	"flag"

	"github.com/rs/zerolog/log"

	"github.com/Sh00ty/mcast-northd/internal/storage/postgres"
)

func main() {
	var (
		host     = flag.String("host", "127.0.0.1", "database host")
		port     = flag.Uint("port", 5432, "database port")
		user     = flag.String("user", "postgres", "database user")
		password = flag.String("password", "postgres", "database password")
		dbName   = flag.String("db", "postgres", "database name")
	)
	flag.Parse()

	ctx := context.Background()
	repo, err := postgres.NewRepo(ctx, postgres.Config{
		User:     *user,
		Password: *password,
		Host:     *host,
		Port:     uint16(*port),
		Database: *dbName,
	}, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer repo.Close()

	err = repo.Migrate(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
	log.Info().Msg("output tables are ready")
}
