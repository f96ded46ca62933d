package cli

import (
	"context"
	"strings"

	"github.com/nismod/smif/internal/store"
)

// openStore resolves the --store flag: "memory" for an in-process
// store, a postgres:// or postgresql:// DSN for the Postgres backing,
// anything else is a SQLite database path.
func openStore(ctx context.Context, target string) (store.Store, error) {
	switch {
	case target == "" || target == "memory":
		return store.NewMemoryStore(), nil
	case strings.HasPrefix(target, "postgres://") || strings.HasPrefix(target, "postgresql://"):
		return store.OpenPostgres(ctx, target)
	default:
		return store.OpenSQLite(target)
	}
}
