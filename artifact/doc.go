// Package artifact stores and retrieves versioned agent outputs. A logical
// name accumulates versions append-only, strictly increasing from 1; no
// version is ever overwritten. The Manager encodes content through the
// shared content-handler registry, checksums it at store time, and
// enforces write scope per name and capability-based read scope per
// requester. Three Store backends cover the deployment range: in-memory
// for tests and development, redis for the production default, and SQL
// through gorm as the relational alternative.
package artifact
