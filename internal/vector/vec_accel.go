//go:build sqlite_vec && cgo

package vector

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

// Accelerated build. The sqlite-vec extension auto-loads on every cgo
// connection, so vectors.db opens through mattn and distance queries hit the
// native implementation.
const (
	vectorDriver = "sqlite3"
	distanceFunc = "vec_distance_cosine"
)

func init() {
	vec.Auto()
}
