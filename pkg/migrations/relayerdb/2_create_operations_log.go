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
		log.Println("creating operations_log table...")
		if err := mghelper.CreateSchema(ctx, db, &dao.OperationLogDao{}); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &dao.OperationLogDao{}, "address", "memo")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping operations_log table...")
		return mghelper.DropTables(ctx, db, &dao.OperationLogDao{})
	})
}
