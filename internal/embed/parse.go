package embed

import (
	"encoding/json"
	"strings"
)

// parseNumericArray extracts the first well-formed JSON array of numbers from
// free-form model output.
//
// Models rarely follow the "array only" instruction perfectly: replies arrive
// wrapped in prose, markdown code fences, or with trailing commentary. The
// scanner tries a JSON decode at every '[' position and accepts the first
// candidate that parses as a non-empty flat numeric array.
func parseNumericArray(text string) ([]float32, error) {
	for i := 0; i < len(text); i++ {
		if text[i] != '[' {
			continue
		}

		dec := json.NewDecoder(strings.NewReader(text[i:]))
		var raw []json.Number
		if err := dec.Decode(&raw); err != nil {
			continue
		}
		if len(raw) == 0 {
			continue
		}

		vec := make([]float32, len(raw))
		ok := true
		for j, n := range raw {
			f, err := n.Float64()
			if err != nil {
				ok = false
				break
			}
			vec[j] = float32(f)
		}
		if ok {
			return vec, nil
		}
	}
	return nil, ErrUnparsableReply
}

// NormalizeDimension forces vec to exactly dims entries: shorter vectors are
// zero-padded at the tail, longer vectors are truncated at the tail. The
// input slice is never mutated.
func NormalizeDimension(vec []float32, dims int) []float32 {
	out := make([]float32, dims)
	copy(out, vec)
	return out
}
