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
		log.Println("creating pending_tasks table...")
		if err := mghelper.CreateSchema(ctx, db, &dao.PendingTaskDao{}); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &dao.PendingTaskDao{}, "operation_id", "not_before")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping pending_tasks table...")
		return mghelper.DropTables(ctx, db, &dao.PendingTaskDao{})
	})
}
