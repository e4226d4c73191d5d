// Package postgres implements the store using pgx/v5 with raw SQL.
// Features: SKIP LOCKED dequeue, embedded SQL migrations, windowed
// retention pruning for completed jobs.
package postgres
