// Package store provides RecordStore implementations: SQLite for the default
// single-node deployment, Postgres for shared deployments, and an in-memory
// store for tests.
package store
