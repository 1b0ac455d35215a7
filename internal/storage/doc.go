// Package storage keeps the operator audit trail: who toggled an exclusion,
// who changed the log level, and whether it worked.
//
// Drivers:
//   - "file": JSON Lines next to the configured path
//   - "sqlite": SQLite database (modernc.org/sqlite, no cgo)
//   - "" or "none": disabled, Open returns a nil Store
package storage
