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
		log.Println("creating mint_orders and burn_requests tables...")
		if err := mghelper.CreateSchema(ctx, db, &dao.MintOrderDao{}, &dao.BurnRequestDao{}); err != nil {
			return err
		}
		if err := mghelper.CreateModelIndexes(ctx, db, &dao.MintOrderDao{}, "digest", "operation_id"); err != nil {
			return err
		}
		if _, err := db.NewCreateIndex().
			Model(&dao.MintOrderDao{}).
			Index("idx_mint_orders_sender_src_token").
			Column("sender", "src_token").
			IfNotExists().
			Exec(ctx); err != nil {
			return err
		}
		_, err := db.NewCreateIndex().
			Model(&dao.BurnRequestDao{}).
			Index("idx_burn_requests_tx_hash_log_index").
			Column("tx_hash", "log_index").
			Unique().
			IfNotExists().
			Exec(ctx)
		return err
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping mint_orders and burn_requests tables...")
		return mghelper.DropTables(ctx, db, &dao.BurnRequestDao{}, &dao.MintOrderDao{})
	})
}
