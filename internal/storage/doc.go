// Package storage persists gift pool participants and the admin audit log.
//
// Drivers:
//   - "sqlite": single-file database (modernc.org/sqlite, WAL, one connection)
//   - "postgres": pgx connection pool
//   - "memory": process-local maps, used by tests and dry runs
//   - "file": memory driver plus a JSON snapshot and a JSONL audit log
//
// Every driver keeps pairing edges symmetric: writes that touch ward_id or
// giver_id run in one transaction (or under one lock).
package storage
