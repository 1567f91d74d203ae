package httpmw

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/keithlinneman/insightdash/internal/xerrors"
)

const (
	// formMaxDepth bounds bracket nesting (a[b][c]...); deeper segments are
	// kept as one literal key.
	formMaxDepth = 5
	// formMaxParams caps the number of pairs parsed from one body.
	formMaxParams = 1000
	// formMaxArrayIndex is the highest explicit index (a[7]=x) turned into
	// an array slot; larger indexes stay map keys.
	formMaxArrayIndex = 20
)

// parseForm decodes an urlencoded body into nested maps and slices:
//
//	a=1&a=2          -> {"a": ["1","2"]}
//	user[name]=x     -> {"user": {"name": "x"}}
//	tags[]=a&tags[]=b -> {"tags": ["a","b"]}
//	items[1]=b&items[0]=a -> {"items": ["a","b"]}
func parseForm(raw string) (map[string]any, error) {
	out := map[string]any{}
	if raw == "" {
		return out, nil
	}
	pairs := strings.Split(raw, "&")
	if len(pairs) > formMaxParams {
		pairs = pairs[:formMaxParams]
	}
	for _, pair := range pairs {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			return nil, xerrors.Wrapf(err, "decode form key %q", k)
		}
		val, err := url.QueryUnescape(v)
		if err != nil {
			return nil, xerrors.Wrapf(err, "decode form value for %q", key)
		}
		if key == "" {
			continue
		}
		assign(out, splitFormKey(key), val)
	}
	for k, v := range out {
		out[k] = compactArrays(v)
	}
	return out, nil
}

// splitFormKey turns "a[b][]" into ["a","b",""].
func splitFormKey(key string) []string {
	open := strings.IndexByte(key, '[')
	if open <= 0 || !strings.HasSuffix(key, "]") {
		return []string{key}
	}
	segs := []string{key[:open]}
	rest := key[open:]
	for len(rest) > 0 && rest[0] == '[' {
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			break
		}
		if len(segs) > formMaxDepth {
			segs = append(segs, rest)
			return segs
		}
		segs = append(segs, rest[1:end])
		rest = rest[end+1:]
	}
	if rest != "" {
		// malformed suffix like a[b]c: treat the whole thing literally
		return []string{key}
	}
	return segs
}

func assign(m map[string]any, path []string, val string) {
	head := path[0]
	if len(path) == 1 {
		switch cur := m[head].(type) {
		case nil:
			m[head] = val
		case string:
			m[head] = []any{cur, val}
		case []any:
			m[head] = append(cur, val)
		}
		// existing object wins over a scalar with the same key
		return
	}

	next := path[1]
	if next == "" {
		// push: a[]=x
		if len(path) > 2 {
			return
		}
		switch cur := m[head].(type) {
		case nil:
			m[head] = []any{val}
		case []any:
			m[head] = append(cur, val)
		case string:
			m[head] = []any{cur, val}
		}
		return
	}

	child, ok := m[head].(map[string]any)
	if !ok {
		if m[head] != nil {
			return
		}
		child = map[string]any{}
		m[head] = child
	}
	assign(child, path[1:], val)
}

// compactArrays converts maps keyed only by small integers into slices
// ordered by index.
func compactArrays(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, c := range t {
			t[k] = compactArrays(c)
		}
		if arr, ok := indexedSlice(t); ok {
			return arr
		}
		return t
	case []any:
		for i, c := range t {
			t[i] = compactArrays(c)
		}
		return t
	}
	return v
}

func indexedSlice(m map[string]any) ([]any, bool) {
	if len(m) == 0 {
		return nil, false
	}
	idx := make([]int, 0, len(m))
	for k := range m {
		n, err := strconv.Atoi(k)
		if err != nil || n < 0 || n > formMaxArrayIndex || strconv.Itoa(n) != k {
			return nil, false
		}
		idx = append(idx, n)
	}
	sort.Ints(idx)
	out := make([]any, 0, len(idx))
	for _, n := range idx {
		out = append(out, m[strconv.Itoa(n)])
	}
	return out, true
}
