package httpmw

import (
	"reflect"
	"strconv"
	"strings"
	"testing"
)

func TestParseForm(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]any
	}{
		{"empty", "", map[string]any{}},
		{"flat", "a=1&b=two", map[string]any{"a": "1", "b": "two"}},
		{"repeated", "a=1&a=2&a=3", map[string]any{"a": []any{"1", "2", "3"}}},
		{"plus and escapes", "q=hello+world&e=a%40b", map[string]any{"q": "hello world", "e": "a@b"}},
		{"nested", "user[name]=ann&user[role]=admin", map[string]any{"user": map[string]any{"name": "ann", "role": "admin"}}},
		{"push", "tags[]=a&tags[]=b", map[string]any{"tags": []any{"a", "b"}}},
		{"indexed", "items[1]=b&items[0]=a", map[string]any{"items": []any{"a", "b"}}},
		{"large index stays map", "items[30]=x", map[string]any{"items": map[string]any{"30": "x"}}},
		{"malformed brackets literal", "a[b]c=1", map[string]any{"a[b]c": "1"}},
		{"missing value", "flag", map[string]any{"flag": ""}},
		{"empty key skipped", "=x&&y=1", map[string]any{"y": "1"}},
		{"scalar wins", "a=1&a[b]=2", map[string]any{"a": "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseForm(tt.raw)
			if err != nil {
				t.Fatalf("parseForm: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %#v\nwant %#v", got, tt.want)
			}
		})
	}
}

func TestParseForm_DepthLimit(t *testing.T) {
	got, err := parseForm("a[b][c][d][e][f][g]=x")
	if err != nil {
		t.Fatal(err)
	}
	cur := got
	for _, k := range []string{"a", "b", "c", "d", "e", "f"} {
		next, ok := cur[k].(map[string]any)
		if !ok {
			t.Fatalf("missing level %q in %#v", k, cur)
		}
		cur = next
	}
	if cur["[g]"] != "x" {
		t.Fatalf("innermost = %#v, want literal [g] key", cur)
	}
}

func TestParseForm_ParamLimit(t *testing.T) {
	var b strings.Builder
	for i := 0; i < formMaxParams+50; i++ {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString("k" + strconv.Itoa(i) + "=v")
	}
	got, err := parseForm(b.String())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != formMaxParams {
		t.Fatalf("len = %d, want %d", len(got), formMaxParams)
	}
}

func TestParseForm_BadEscape(t *testing.T) {
	if _, err := parseForm("a=%zz"); err == nil {
		t.Fatal("expected error for invalid escape")
	}
}
