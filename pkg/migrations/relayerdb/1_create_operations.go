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
		log.Println("creating incomplete_operations table...")
		if err := mghelper.CreateSchema(ctx, db, &dao.IncompleteOperationDao{}); err != nil {
			return err
		}
		if err := mghelper.CreateModelIndexes(ctx, db, &dao.IncompleteOperationDao{}, "address", "status"); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &dao.IncompleteOperationDao{}, "memo")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping incomplete_operations table...")
		return mghelper.DropTables(ctx, db, &dao.IncompleteOperationDao{})
	})
}
