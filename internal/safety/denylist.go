package safety

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// maxScanDepth bounds recursion into nested request bodies. A container
// nested deeper than this is itself a blocking match.
const maxScanDepth = 4

const depthExceeded = "nesting_depth_exceeded"

var denyTerms = []string{
	"withdraw", "withdrawal", "transfer", "futures", "margin",
	"lending", "loan", "borrow", "deposit", "staking", "stake",
}

// Body keys whose values name the operation being requested.
var actionFields = map[string]bool{
	"action": true, "type": true, "operation": true, "op": true, "intent": true,
	"endpoint": true, "method": true, "category": true, "txtype": true,
}

var tradingSegments = map[string]bool{
	"order": true, "orders": true, "trade": true, "trades": true, "portfolio": true, "positions": true,
}

// Client-settable flags that would claim a live execution.
var liveFlags = []string{"realTrade", "real_trade", "liveTrade", "live_trade", "isLive", "live", "useRealMoney"}

// tokenize splits s on anything that is not a letter or digit and also on
// camelCase boundaries, lower-casing the result.
func tokenize(s string) map[string]bool {
	out := make(map[string]bool)
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			out[strings.ToLower(string(cur))] = true
			cur = cur[:0]
		}
	}
	runes := []rune(s)
	for i, r := range runes {
		switch {
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			flush()
		case unicode.IsUpper(r) && i > 0 && unicode.IsLower(runes[i-1]):
			flush()
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
	}
	flush()
	return out
}

// matchDenyTerms returns the deny terms that prefix any token of s.
func matchDenyTerms(s string) []string {
	var hits []string
	for tok := range tokenize(s) {
		for _, term := range denyTerms {
			if strings.HasPrefix(tok, term) {
				hits = append(hits, term)
			}
		}
	}
	return hits
}

// scanPath matches deny terms against path segments.
func scanPath(path string) []string {
	var hits []string
	for _, seg := range strings.Split(path, "/") {
		hits = append(hits, matchDenyTerms(seg)...)
	}
	return hits
}

// scanBody walks maps and arrays up to maxScanDepth, matching deny terms
// against keys and action-like field values at every level. Anything it
// cannot scan counts as a match.
func scanBody(v any, depth int) []string {
	switch v.(type) {
	case map[string]any, []any:
		if depth > maxScanDepth {
			return []string{depthExceeded}
		}
	default:
		return nil
	}
	var hits []string
	switch node := v.(type) {
	case map[string]any:
		for k, val := range node {
			for _, term := range matchDenyTerms(k) {
				hits = append(hits, "key:"+term)
			}
			if actionFields[strings.ToLower(k)] {
				if s, ok := val.(string); ok {
					for _, term := range matchDenyTerms(s) {
						hits = append(hits, k+"="+term)
					}
				}
			}
			hits = append(hits, scanBody(val, depth+1)...)
		}
	case []any:
		for _, item := range node {
			hits = append(hits, scanBody(item, depth+1)...)
		}
	}
	return hits
}

// isTradingShaped reports whether the request places or inspects orders.
func isTradingShaped(path string, body map[string]any) bool {
	for _, seg := range strings.Split(strings.ToLower(path), "/") {
		if tradingSegments[seg] {
			return true
		}
	}
	_, hasSymbol := body["symbol"]
	_, hasSide := body["side"]
	return hasSymbol && hasSide
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "y", "on":
			return true
		}
	case float64:
		return t != 0
	case int:
		return t != 0
	}
	return false
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// cloneBody deep-copies the JSON-shaped parts of a body.
func cloneBody(v any) any {
	switch node := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(node))
		for k, val := range node {
			out[k] = cloneBody(val)
		}
		return out
	case []any:
		out := make([]any, len(node))
		for i, val := range node {
			out[i] = cloneBody(val)
		}
		return out
	default:
		return node
	}
}

func describe(v any) string {
	return fmt.Sprintf("%v", v)
}
