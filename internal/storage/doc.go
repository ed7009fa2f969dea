// Package storage persists registrations, the last announced draw date and an
// audit trail.
//
// Drivers:
//   - memory: process-local maps (tests, throwaway runs)
//   - file:   JSON files in a directory, compatible with the legacy bot layout
//   - sqlite: single database file (modernc.org/sqlite, no cgo)
//   - redis:  shared state for multi-instance or PaaS deployments
package storage
