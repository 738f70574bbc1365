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
		log.Println("creating nonce_counter table...")
		if err := mghelper.CreateSchema(ctx, db, &dao.NonceCounterDao{}); err != nil {
			return err
		}
		_, err := db.NewInsert().
			Model(&dao.NonceCounterDao{ID: 1, Value: 0}).
			On("CONFLICT (id) DO NOTHING").
			Exec(ctx)
		return err
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping nonce_counter table...")
		return mghelper.DropTables(ctx, db, &dao.NonceCounterDao{})
	})
}
