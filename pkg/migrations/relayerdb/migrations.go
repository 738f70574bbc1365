// Package relayerdb holds the schema migrations for the bridge runtime's
// database: the operation log, scheduler queue, nonce counter, owner
// config store, signing key, and Bitcoin-side ledgers.
package relayerdb

import "github.com/uptrace/bun/migrate"

// Migrations is the registry every numbered migration file in this
// package registers itself into via init().
var Migrations = migrate.NewMigrations()
