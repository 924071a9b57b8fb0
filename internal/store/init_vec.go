//go:build sqlite_vec && cgo

package store

import (
	sqlitevec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

// Auto registers sqlite-vec as an auto-loading extension, so every
// connection the mattn/go-sqlite3 driver opens gets the vec0 module.
// Without this tag the store falls back to in-process cosine search.
func init() {
	sqlitevec.Auto()
}
