//go:build !(sqlite_vec && cgo)

package store

import (
	"database/sql/driver"
	"fmt"

	sqlite "modernc.org/sqlite"
)

// driverName is the pure-Go modernc driver.
const driverName = "sqlite"

func init() {
	registerDistanceFuncs()
}

// registerDistanceFuncs installs vec_distance_* scalar functions so queries
// written for sqlite-vec run unchanged on the pure-Go driver.
func registerDistanceFuncs() {
	impls := map[string]func(a, b []float32) (float64, error){
		distanceFuncs[MetricCosine]: cosineDistance,
		distanceFuncs[MetricL2]:     l2Distance,
		distanceFuncs[MetricIP]:     ipDistance,
	}
	for name, fn := range impls {
		name, fn := name, fn
		// Deterministic: same input blobs produce the same distance.
		_ = sqlite.RegisterDeterministicScalarFunction(name, 2, func(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			if len(args) != 2 {
				return nil, fmt.Errorf("%s expects 2 arguments", name)
			}
			d, err := blobDistance(fn, args[0], args[1])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			return d, nil
		})
	}
}

// vecExtension reports whether the native sqlite-vec extension is loaded.
func vecExtension() bool { return false }
