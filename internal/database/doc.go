// Package database provides PostgreSQL connectivity and the declared-topic
// repository.
//
// Uses pgx for connection pooling. Declared topics record subscriber intent
// so provider-side subscriptions can be re-adopted after a restart.
package database
