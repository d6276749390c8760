package knowledge

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/vectorstores/pgvector"
)

// CollectionConfig locates a named vector collection in PostgreSQL.
type CollectionConfig struct {
	DatabaseURL string
	Name        string
	// Recreate drops the collection's existing chunks before use.
	Recreate bool
}

// Collection is a pgvector-backed vector store. It satisfies
// vectorstores.VectorStore.
type Collection struct {
	pgvector.Store
	pool *pgxpool.Pool
}

// OpenCollection connects to the database and prepares the collection.
func OpenCollection(ctx context.Context, cfg CollectionConfig, embedder embeddings.Embedder) (*Collection, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store, err := pgvector.New(ctx,
		pgvector.WithConn(pool),
		pgvector.WithEmbedder(embedder),
		pgvector.WithCollectionName(cfg.Name),
		pgvector.WithPreDeleteCollection(cfg.Recreate),
	)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("open collection %s: %w", cfg.Name, err)
	}

	return &Collection{Store: store, pool: pool}, nil
}

func (c *Collection) Close() {
	c.pool.Close()
}
