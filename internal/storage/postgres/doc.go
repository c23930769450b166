// Package postgres is the durable Store.
//
// Queries are built with squirrel. Numeric columns are read back as text so
// decimals round-trip without float conversion.
package postgres
