package db

import (
	"database/sql/driver"
	"encoding/binary"
	"fmt"
	"math"

	sqlite "modernc.org/sqlite"
)

// DistanceFunc is the SQL function name for cosine distance between two
// embedding blobs: 1 - cos(a, b). Rows are ranked with ORDER BY on it.
const DistanceFunc = "vec_distance_cos"

func init() {
	// Deterministic: same input blobs produce the same distance.
	if err := sqlite.RegisterDeterministicScalarFunction(DistanceFunc, 2, vecDistanceCos); err != nil {
		panic(fmt.Sprintf("register %s: %v", DistanceFunc, err))
	}
}

// EncodeVector packs v as little-endian float32s. A nil or empty vector
// encodes as NULL.
func EncodeVector(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector unpacks a blob written by EncodeVector.
func DecodeVector(data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d not multiple of 4", len(data))
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out, nil
}

func vecDistanceCos(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("%s expects 2 arguments", DistanceFunc)
	}
	a, err := decodeValue(args[0])
	if err != nil {
		return nil, err
	}
	b, err := decodeValue(args[1])
	if err != nil {
		return nil, err
	}
	if len(a) == 0 || len(b) == 0 {
		return float64(1), nil
	}
	if len(a) != len(b) {
		return nil, fmt.Errorf("%s: dimension mismatch %d vs %d", DistanceFunc, len(a), len(b))
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

func decodeValue(v driver.Value) ([]float32, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return DecodeVector(x)
	case string:
		return DecodeVector([]byte(x))
	default:
		return nil, fmt.Errorf("%s: unsupported argument type %T", DistanceFunc, v)
	}
}
