// Package storage holds backend configuration and the small abstractions the
// services share: a Querier satisfied by both *sql.DB and *sql.Tx, a
// transaction helper, and the ObjectStore used for KYC documents.
//
// # Backends
//
// PostgreSQL is the system of record. Concrete clients live in
// pkg/storage/postgres:
//
//   - ConnectionManager: primary plus optional read replicas
//   - Migrate: applies the embedded schema
//   - NewRedisClient: go-redis client for clicks and rate limits
//   - S3Store: ObjectStore on aws-sdk-go-v2
//
// FileSystemStore is an ObjectStore for local development.
//
// # Transactions
//
//	err := storage.InTx(ctx, db, func(tx *sql.Tx) error {
//		// every statement here commits or rolls back together
//		return nil
//	})
package storage
