package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/medkeeper/internal/dbx"
	"github.com/dmitrijs2005/medkeeper/internal/repositories/documents"
	"github.com/dmitrijs2005/medkeeper/internal/repositories/records"
	"github.com/dmitrijs2005/medkeeper/internal/repositories/users"
)

// RepositoryManager hands out repositories bound to a DBTX so a service can
// use them on the pool or inside one transaction.
type RepositoryManager interface {
	RunMigrations(ctx context.Context, db *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Records(db dbx.DBTX) records.Repository
	Documents(db dbx.DBTX) documents.Repository
}
