package dispatch

import (
	"encoding/json"
)

// Aggregator reduces a dispatch's successful results into a single
// decision. It runs only over successful results; the caller always has
// access to the full Result.Requests breakdown alongside Aggregated.
type Aggregator func(successes []RequestResult) any

// CollectAll returns the full list of per-request values, input order
// preserved (the only aggregation strategy where input order is defined,
// per the concurrency model's ordering guarantees).
func CollectAll() Aggregator {
	return func(successes []RequestResult) any {
		values := make([]any, 0, len(successes))
		for _, r := range successes {
			values = append(values, r.Value)
		}
		return values
	}
}

// MajorityVote canonicalizes each result's value (stable JSON encoding) and
// returns the value with the most votes; ties resolve to the first-seen
// winner.
func MajorityVote() Aggregator {
	return func(successes []RequestResult) any {
		votes := make(map[string]int)
		order := make([]string, 0, len(successes))
		values := make(map[string]any)
		for _, r := range successes {
			key := canonicalJSON(r.Value)
			if _, seen := values[key]; !seen {
				order = append(order, key)
				values[key] = r.Value
			}
			votes[key]++
		}
		var winner string
		best := -1
		for _, key := range order {
			if votes[key] > best {
				best = votes[key]
				winner = key
			}
		}
		if winner == "" {
			return nil
		}
		return values[winner]
	}
}

// BestScore returns the value of the result with the highest Score.
func BestScore() Aggregator {
	return func(successes []RequestResult) any {
		var best *RequestResult
		for i := range successes {
			r := &successes[i]
			if best == nil || r.Score > best.Score {
				best = r
			}
		}
		if best == nil {
			return nil
		}
		return best.Value
	}
}

// Custom wraps a caller-supplied reducer as an Aggregator.
func Custom(fn func([]RequestResult) any) Aggregator {
	return fn
}

func canonicalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
