//go:build !(sqlite_vec && cgo)

package vector

// Pure Go build. vectors.db opens through the modernc driver and cosine
// distance comes from the compat scalar registered in vec_compat.go.
const (
	vectorDriver = "sqlite"
	distanceFunc = "vector_distance_cos"
)
