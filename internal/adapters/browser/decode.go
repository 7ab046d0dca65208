package browser

import (
	"encoding/json"
	"fmt"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/core"
)

// decodeInto converts an Evaluate result into dst by round-tripping it
// through JSON. Evaluate returns maps, slices and float64 numbers.
func decodeInto(v interface{}, dst interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding page result: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decoding page result: %w", err)
	}
	return nil
}

func decodeLinks(v interface{}) ([]core.CandidateLink, error) {
	if v == nil {
		return nil, nil
	}
	var links []core.CandidateLink
	if err := decodeInto(v, &links); err != nil {
		return nil, err
	}
	return links, nil
}

func decodeBlocks(v interface{}) ([]core.TextBlock, error) {
	if v == nil {
		return nil, nil
	}
	var blocks []core.TextBlock
	if err := decodeInto(v, &blocks); err != nil {
		return nil, err
	}
	out := blocks[:0]
	for _, b := range blocks {
		if b.Kind != core.BlockText && b.Kind != core.BlockGroup {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case nil:
		return 0, nil
	}
	return 0, fmt.Errorf("unexpected number type %T", v)
}

func toString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func toBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}
