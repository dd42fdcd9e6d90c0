package coordinator

import (
	"encoding/json"
	"math"

	"github.com/ssd-technologies/crosslearn/internal/agent"
)

// encodeBatch returns the stored form of batch. When the batch does not
// encode as is, non-finite numbers in payloads are written as null; if that
// still fails the entry carries an error envelope instead. err is the
// original encode failure and is nil when the batch encoded cleanly.
func encodeBatch(batch []agent.Insight) (data string, err error) {
	raw, err := json.Marshal(batch)
	if err == nil {
		return string(raw), nil
	}
	if raw, serr := json.Marshal(sanitizeBatch(batch)); serr == nil {
		return string(raw), err
	}
	raw, _ = json.Marshal(map[string]string{"encode_error": err.Error()})
	return string(raw), err
}

func sanitizeBatch(batch []agent.Insight) []agent.Insight {
	out := make([]agent.Insight, len(batch))
	for i, ins := range batch {
		if ins.Payload != nil {
			ins.Payload = sanitizeValue(ins.Payload).(map[string]any)
		}
		out[i] = ins
	}
	return out
}

func sanitizeValue(v any) any {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
	case float32:
		if f := float64(x); math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[k] = sanitizeValue(e)
		}
		return m
	case []any:
		s := make([]any, len(x))
		for i, e := range x {
			s[i] = sanitizeValue(e)
		}
		return s
	}
	return v
}
