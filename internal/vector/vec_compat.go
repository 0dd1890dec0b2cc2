package vector

import (
	"database/sql/driver"
	"fmt"
	"math"

	sqlite "modernc.org/sqlite"
)

func init() {
	// Same blob layout sqlite-vec uses; search SQL picks the function
	// name through distanceFunc. Registration is process-wide.
	_ = sqlite.RegisterDeterministicScalarFunction("vector_distance_cos", 2, cosineDistance)
}

// cosineDistance returns 1 - cos(a, b). Empty and zero vectors are maximally
// distant; mismatched dimensions are an error.
func cosineDistance(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("vector_distance_cos expects 2 arguments")
	}
	a, err := coerceVector(args[0])
	if err != nil {
		return nil, err
	}
	b, err := coerceVector(args[1])
	if err != nil {
		return nil, err
	}
	if len(a) == 0 || len(b) == 0 {
		return float64(1), nil
	}
	if len(a) != len(b) {
		return nil, fmt.Errorf("vector_distance_cos: dimension mismatch %d vs %d", len(a), len(b))
	}

	var dot, na, nb float64
	for i := range a {
		af := float64(a[i])
		bf := float64(b[i])
		dot += af * bf
		na += af * af
		nb += bf * bf
	}
	if na == 0 || nb == 0 {
		return float64(1), nil
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb)), nil
}

func coerceVector(v driver.Value) ([]float32, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		if len(x)%4 != 0 {
			return nil, fmt.Errorf("vector_distance_cos: blob length %d not a multiple of 4", len(x))
		}
		return decodeVector(x), nil
	case string:
		return coerceVector([]byte(x))
	default:
		return nil, fmt.Errorf("vector_distance_cos: unsupported argument type %T", v)
	}
}
