// Package store persists workspaces, threads, transcript messages and small
// settings in SQLite.
//
// Messages are append-only. Each message is keyed by the id of the event it
// was projected from, and assistant messages additionally by their message
// key, so replaying an event never duplicates a row and a final assistant
// message is written at most once per message id.
package store
