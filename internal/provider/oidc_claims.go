package provider

import (
	"encoding/json"
	"sort"
	"strconv"

	"github.com/jorgecotillo/salesianos-openid-connect/internal/claims"
)

// FlattenClaims converts a decoded id_token claim map into the broker's
// claim sequence. Scalar values are stringified, composite values are
// carried as compact JSON, and keys are sorted so the output is
// deterministic.
func FlattenClaims(raw map[string]any) []claims.Claim {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]claims.Claim, 0, len(raw))
	for _, k := range keys {
		v, ok := stringify(raw[k])
		if !ok {
			continue
		}
		out = append(out, claims.Claim{Type: k, Value: v})
	}
	return out
}

func stringify(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case json.Number:
		return t.String(), true
	case nil:
		return "", false
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}
