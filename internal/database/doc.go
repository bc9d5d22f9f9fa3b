// Package database manages the gorm connection pool shared by the
// artifact SQL store and the schema migration runner.
//
// PoolManager applies sql.DB pool limits at construction, probes the
// database on a background ticker, and exposes WithTransaction plus
// WithTransactionRetry for callers that can replay on deadlocks,
// serialization failures, and dropped connections. Connect opens the
// postgres handle directly from a DSN for the common wiring path.
package database
