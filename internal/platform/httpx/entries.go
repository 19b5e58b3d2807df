package httpx

import "encoding/json"

// DecodeEntries unmarshals each element of a listing on its own so one bad
// record cannot sink the page. It returns the decoded entries and the number
// that failed to decode.
func DecodeEntries[T any](raw []json.RawMessage) ([]T, int) {
	out := make([]T, 0, len(raw))
	bad := 0
	for _, r := range raw {
		var v T
		if err := json.Unmarshal(r, &v); err != nil {
			bad++
			continue
		}
		out = append(out, v)
	}
	return out, bad
}
