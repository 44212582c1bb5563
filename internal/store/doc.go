// Package store defines the key/value contract the progress service persists
// tracker and batch records through. Implementations live in
// internal/storage/...; this package must not import database drivers or
// concrete clients.
package store
