package relayerdb

import (
	"context"
	"log"

	"github.com/omnibridge/bridge-runtime/pkg/db/dao"
	mghelper "github.com/omnibridge/bridge-runtime/pkg/pgutil/migrations"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		log.Println("creating master_key table...")
		return mghelper.CreateSchema(ctx, db, &dao.MasterKeyDao{})
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping master_key table...")
		return mghelper.DropTables(ctx, db, &dao.MasterKeyDao{})
	})
}
