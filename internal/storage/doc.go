// Package storage is the durable store behind the scheduler: sessions,
// answered-question audit rows, channel monitoring entries and credentials,
// all in a single SQLite file.
//
// Timestamps are stored as unix milliseconds. Answer rows are append-only;
// the partial unique index on (user_id, post_id) for posted rows is the
// durable half of the dedup guarantee.
package storage
