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
		log.Println("creating utxo_ledger and used_utxos tables...")
		if err := mghelper.CreateSchema(ctx, db, &dao.UtxoLedgerDao{}, &dao.UsedUtxoDao{}); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &dao.UtxoLedgerDao{}, "address")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping utxo_ledger and used_utxos tables...")
		return mghelper.DropTables(ctx, db, &dao.UsedUtxoDao{}, &dao.UtxoLedgerDao{})
	})
}
