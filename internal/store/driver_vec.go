//go:build sqlite_vec && cgo

package store

import (
	"database/sql"

	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	sqlite3 "github.com/mattn/go-sqlite3"
)

// driverName is mattn/go-sqlite3 with sqlite-vec auto-loaded.
const driverName = "sqlite3_ravana"

func init() {
	// Register the sqlite-vec extension with the mattn/go-sqlite3 driver.
	// vec.Auto() registers it as an auto-loadable extension.
	vec.Auto()

	// sqlite-vec ships cosine and l2; inner product is registered per connection.
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc(distanceFuncs[MetricIP], func(a, b []byte) (float64, error) {
				return blobDistance(ipDistance, a, b)
			}, true)
		},
	})
}

// vecExtension reports whether the native sqlite-vec extension is loaded.
func vecExtension() bool { return true }
