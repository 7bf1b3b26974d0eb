// Package postgres is the store of record: users, their embedded refresh
// session and funding campaigns, on a pgx pool with goose migrations.
package postgres
