// Package store persists terminal campaign snapshots in SQLite as a derived
// read model for the synchronous snapshot query.
package store
