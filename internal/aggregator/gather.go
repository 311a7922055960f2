package aggregator

import (
	"github.com/vyrodovalexey/svcgw/internal/config"
	"github.com/vyrodovalexey/svcgw/internal/transform"
)

// gather combines scattered responses according to the gather strategy.
// merge is the default.
func (r *run) gather() any {
	g := r.cfg.Gather
	if g == nil {
		return r.assemble()
	}
	switch g.Method {
	case config.GatherReduce:
		return r.reduce(g)
	case config.GatherSelect:
		return r.selectFirst()
	default:
		return r.assemble()
	}
}

// reduce folds the numeric g.Field of every successful response. Values
// that are missing or not numeric are ignored.
func (r *run) reduce(g *config.GatherConfig) any {
	op := g.Operation
	if op == "" {
		op = config.ReduceSum
	}

	results := r.successes()
	var sum float64
	count := 0
	for _, name := range sortedKeys(results) {
		v, ok := transform.Lookup(results[name], g.Field)
		if !ok {
			continue
		}
		if f, ok := toFloat(v); ok {
			sum += f
			count++
		}
	}

	var result any = sum
	if op == config.ReduceAverage {
		if count == 0 {
			result = nil
		} else {
			result = sum / float64(count)
		}
	}

	body := map[string]any{
		"field":     g.Field,
		"operation": op,
		"result":    result,
		"count":     count,
	}
	if failed := r.failedEntries(); len(failed) > 0 {
		body["errors"] = failed
	}
	return body
}

// selectFirst returns the first successful response in scatter order.
func (r *run) selectFirst() any {
	for _, svc := range r.cfg.Scatter.Services {
		if o, ok := r.get(svc); ok && o.state == outcomeOK {
			return o.data
		}
	}
	return map[string]any{
		"error":   "no successful response",
		"message": "every scattered call failed",
		"errors":  r.failedEntries(),
	}
}

func (r *run) failedEntries() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]any)
	for name, o := range r.outcomes {
		if o.state == outcomeFailed {
			out[name] = o.entry()
		}
	}
	return out
}
