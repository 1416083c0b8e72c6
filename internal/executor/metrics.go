package executor

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	cerrors "github.com/fleetd/fleetd/internal/common/errors"
)

// Output formats drift across CLI releases, so metric recovery is best
// effort: structured JSON first, then pattern extraction over raw text,
// then zeroes. A MetricsParse error accompanies the zeroes so the
// caller can log the degradation; it must never fail the iteration.

// scanJSONObjects feeds every line that decodes as a JSON object to fn,
// stopping early when fn returns true. Stream-oriented CLIs emit one
// object per line; single-document CLIs still match on the whole
// output when it is a single line.
func scanJSONObjects(raw string, fn func(obj map[string]interface{}) bool) bool {
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			continue
		}
		if fn(obj) {
			return true
		}
	}
	return false
}

// intAt walks a dotted path into nested JSON objects and returns the
// numeric leaf, if any.
func intAt(obj map[string]interface{}, path ...string) (int64, bool) {
	cur := obj
	for i, key := range path {
		val, ok := cur[key]
		if !ok {
			return 0, false
		}
		if i == len(path)-1 {
			switch n := val.(type) {
			case float64:
				return int64(n), true
			case json.Number:
				v, err := n.Int64()
				return v, err == nil
			}
			return 0, false
		}
		cur, ok = val.(map[string]interface{})
		if !ok {
			return 0, false
		}
	}
	return 0, false
}

// regexInt extracts the first captured integer of pattern from raw.
func regexInt(re *regexp.Regexp, raw string) (int64, bool) {
	m := re.FindStringSubmatch(raw)
	if len(m) < 2 {
		return 0, false
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// fallbackMetrics applies the regex tier and decides between degraded
// metrics and a clean zero-with-error result.
func fallbackMetrics(raw string, in, out, files *regexp.Regexp) (Metrics, error) {
	var m Metrics
	var any bool
	if v, ok := regexInt(in, raw); ok {
		m.TokensInput, any = v, true
	}
	if v, ok := regexInt(out, raw); ok {
		m.TokensOutput, any = v, true
	}
	if v, ok := regexInt(files, raw); ok {
		m.FilesModified, any = int(v), true
	}
	if !any {
		return Metrics{}, cerrors.MetricsParse("no usage data in executor output", nil)
	}
	return m, nil
}
