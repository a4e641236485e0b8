package configs

import (
	"context"
	"fmt"

	"github.com/123bigmirros/electronic-grave/repository"
)

// Store is an opened canvas repository with its cleanup.
type Store struct {
	Repo  repository.CanvasRepositoryInterface
	Close func(ctx context.Context) error
}

// OpenStore opens the configured backend. With migrate set the schema or
// indexes are created first.
func OpenStore(ctx context.Context, cfg Config, migrate bool) (*Store, error) {
	switch cfg.Store {
	case StoreSQLite, StorePostgres:
		var repo *repository.SQLCanvasRepository
		if cfg.Store == StoreSQLite {
			db, err := repository.OpenSQLite(cfg.SQLitePath)
			if err != nil {
				return nil, err
			}
			repo = repository.NewSQLCanvasRepository(db, repository.DialectSQLite)
		} else {
			db, err := repository.OpenPostgres(ctx, cfg.PostgresDSN)
			if err != nil {
				return nil, err
			}
			repo = repository.NewSQLCanvasRepository(db, repository.DialectPostgres)
		}
		if migrate {
			if err := repo.Migrate(ctx); err != nil {
				_ = repo.Close()
				return nil, err
			}
		}
		return &Store{Repo: repo, Close: func(context.Context) error { return repo.Close() }}, nil

	case StoreMongo:
		client, err := ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		repo := repository.NewMongoCanvasRepository(client.Database(cfg.MongoDatabase), cfg.MongoTransactions)
		if migrate {
			if err := repo.EnsureIndexes(ctx); err != nil {
				_ = client.Disconnect(ctx)
				return nil, err
			}
		}
		return &Store{Repo: repo, Close: client.Disconnect}, nil

	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}
