package store

import (
	"database/sql/driver"
	"encoding/binary"
	"fmt"
	"math"
)

// Distance metrics supported by the knowledge base.
const (
	MetricCosine = "cosine"
	MetricL2     = "l2"
	MetricIP     = "ip"
)

// distanceFuncs maps a metric to the SQL scalar function computing it. The
// names match sqlite-vec so both driver builds share one query.
var distanceFuncs = map[string]string{
	MetricCosine: "vec_distance_cosine",
	MetricL2:     "vec_distance_l2",
	MetricIP:     "vec_distance_ip",
}

// encodeFloat32 serializes a vector as little-endian float32, the blob layout
// sqlite-vec uses.
func encodeFloat32(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeFloat32 converts supported driver.Value types into a float32 slice.
func decodeFloat32(v driver.Value) ([]float32, error) {
	if v == nil {
		return nil, nil
	}
	switch x := v.(type) {
	case []byte:
		if len(x)%4 != 0 {
			return nil, fmt.Errorf("vector blob length %d not multiple of 4", len(x))
		}
		out := make([]float32, len(x)/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(x[i*4:]))
		}
		return out, nil
	case string:
		return decodeFloat32([]byte(x))
	default:
		return nil, fmt.Errorf("unsupported vector type %T", v)
	}
}

// cosineDistance is 1 - cos(a, b). Zero vectors are maximally distant.
func cosineDistance(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("dimension mismatch %d vs %d", len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		af, bf := float64(a[i]), float64(b[i])
		dot += af * bf
		na += af * af
		nb += bf * bf
	}
	if na == 0 || nb == 0 {
		return 1, nil
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb)), nil
}

// l2Distance is the Euclidean distance.
func l2Distance(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("dimension mismatch %d vs %d", len(a), len(b))
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// ipDistance is 1 - a·b, so larger inner products sort first.
func ipDistance(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("dimension mismatch %d vs %d", len(a), len(b))
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return 1 - dot, nil
}

// blobDistance decodes two blobs and applies fn.
func blobDistance(fn func(a, b []float32) (float64, error), x, y driver.Value) (float64, error) {
	a, err := decodeFloat32(x)
	if err != nil {
		return 0, err
	}
	b, err := decodeFloat32(y)
	if err != nil {
		return 0, err
	}
	return fn(a, b)
}
