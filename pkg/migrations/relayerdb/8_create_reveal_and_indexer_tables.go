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
		log.Println("creating reveal_utxos and brc20_rune_store tables...")
		return mghelper.CreateSchema(ctx, db, &dao.RevealUtxoDao{}, &dao.Brc20RuneStoreDao{})
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping reveal_utxos and brc20_rune_store tables...")
		return mghelper.DropTables(ctx, db, &dao.Brc20RuneStoreDao{}, &dao.RevealUtxoDao{})
	})
}
