package store

import (
	"encoding/json"
	"fmt"
)

// entryOverhead approximates the bookkeeping cost per entry beyond the
// value payload.
const entryOverhead = 96

// EstimateSize approximates the in-memory footprint of a value in bytes.
// Exact accounting is not the goal; the estimate only needs to be stable
// and roughly proportional so eviction scoring can compare entries.
func EstimateSize(v any) int64 {
	switch val := v.(type) {
	case nil:
		return entryOverhead
	case []byte:
		return entryOverhead + int64(len(val))
	case string:
		return entryOverhead + int64(len(val))
	case bool, int8, uint8:
		return entryOverhead + 1
	case int16, uint16:
		return entryOverhead + 2
	case int32, uint32, float32:
		return entryOverhead + 4
	case int, int64, uint, uint64, float64, complex64:
		return entryOverhead + 8
	}

	// Structured values: size of the JSON encoding is a stable proxy.
	if data, err := json.Marshal(v); err == nil {
		return entryOverhead + int64(len(data))
	}
	return entryOverhead + int64(len(fmt.Sprint(v)))
}
