package wire

import (
	"bytes"
	"fmt"
	"math"
	"strconv"

	"github.com/fxamacker/cbor/v2"
)

// Millis is a unix time in milliseconds as sent by a client. Any JSON or CBOR
// number is accepted; fractions are truncated.
type Millis int64

func (m *Millis) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if string(data) == "null" {
		*m = 0
		return nil
	}
	if n, err := strconv.ParseInt(string(data), 10, 64); err == nil {
		*m = Millis(n)
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("timestamp: %q is not a number", data)
	}
	return m.setFloat(f)
}

func (m *Millis) UnmarshalCBOR(data []byte) error {
	var v any
	if err := cbor.Unmarshal(data, &v); err != nil {
		return err
	}
	switch n := v.(type) {
	case nil:
		*m = 0
	case uint64:
		if n > math.MaxInt64 {
			return fmt.Errorf("timestamp: %d is out of range", n)
		}
		*m = Millis(n)
	case int64:
		*m = Millis(n)
	case float64:
		return m.setFloat(n)
	default:
		return fmt.Errorf("timestamp: unexpected %T", v)
	}
	return nil
}

func (m *Millis) setFloat(f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 || f < math.MinInt64 {
		return fmt.Errorf("timestamp: %v is out of range", f)
	}
	*m = Millis(math.Trunc(f))
	return nil
}
