package hll

import (
	"encoding/json"
	"strconv"
)

// MarshalJSON encodes the register array as an ordered array of decimal
// strings, avoiding precision loss across JSON's float64 number type.
// Witness seeds are never included; see Sketch.Witnesses for that data.
func (s *Sketch) MarshalJSON() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.registers))
	for i, v := range s.registers {
		out[i] = strconv.FormatUint(v, 10)
	}
	return json.Marshal(out)
}

// UnmarshalJSON tolerates partial arrays (missing trailing entries become
// Sentinel) and malformed input (yields an empty sketch at the receiver's
// current size). The receiver's bit width is not changed by decoding; use
// FromJSON to construct a sketch of a given width from a JSON payload.
func (s *Sketch) UnmarshalJSON(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	size := len(s.registers)
	if size == 0 {
		size = 1 << DefaultBits
	}
	fresh := make([]uint64, size)
	for i := range fresh {
		fresh[i] = Sentinel
	}

	var values []string
	if err := json.Unmarshal(data, &values); err == nil {
		for i, v := range values {
			if i >= size {
				break
			}
			parsed, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				continue
			}
			fresh[i] = parsed
		}
	}

	s.registers = fresh
	return nil
}

// FromJSON constructs a sketch with 2^b registers (b clamped into
// [MinBits, MaxBits]) and populates it from a JSON array of decimal-string
// hash values. Malformed JSON yields an empty sketch of the requested size;
// a short array leaves the remaining registers at Sentinel; values beyond
// the sketch's size are ignored.
func FromJSON(b uint8, data []byte) *Sketch {
	s := New(b)
	_ = s.UnmarshalJSON(data)
	return s
}
