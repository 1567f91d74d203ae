package httpmw

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/keithlinneman/insightdash/internal/httperr"
)

type bodyCapture struct {
	body   Body
	ok     bool
	called bool
	raw    string
}

func newBodyHandler(limit int64) (http.Handler, *bodyCapture) {
	c := &bodyCapture{}
	errs := httperr.NewHandler(httperr.Options{})
	h := ParseBody(BodyOptions{Limit: limit, Errors: errs})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.called = true
		c.body, c.ok = BodyFromContext(r.Context())
		b, _ := io.ReadAll(r.Body)
		c.raw = string(b)
		w.WriteHeader(http.StatusNoContent)
	}))
	return httperr.Track(h), c
}

func post(h http.Handler, ct, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body))
	if ct != "" {
		req.Header.Set("Content-Type", ct)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestParseBody_JSON(t *testing.T) {
	h, c := newBodyHandler(1024)
	rec := post(h, "application/json", `{"email":"a@b.c","age":31,"tags":["x"]}`)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !c.ok || c.body.Kind != BodyJSON {
		t.Fatalf("body = %+v ok=%v", c.body, c.ok)
	}
	m := c.body.Value.(map[string]any)
	if m["email"] != "a@b.c" {
		t.Fatalf("email = %v", m["email"])
	}
	if n, ok := m["age"].(json.Number); !ok || n.String() != "31" {
		t.Fatalf("age = %#v, want json.Number 31", m["age"])
	}
	if c.raw != `{"email":"a@b.c","age":31,"tags":["x"]}` {
		t.Fatalf("downstream body = %q", c.raw)
	}
}

func TestParseBody_JSONVariants(t *testing.T) {
	tests := []struct {
		name   string
		ct     string
		body   string
		status int
	}{
		{"array", "application/json", `[1,2]`, http.StatusNoContent},
		{"charset utf-8", "application/json; charset=UTF-8", `{}`, http.StatusNoContent},
		{"whitespace only", "application/json", "  \n", http.StatusNoContent},
		{"scalar rejected", "application/json", `"hi"`, http.StatusBadRequest},
		{"malformed", "application/json", `{"a":`, http.StatusBadRequest},
		{"trailing data", "application/json", `{"a":1} {"b":2}`, http.StatusBadRequest},
		{"latin1 rejected", "application/json; charset=latin1", `{}`, http.StatusUnsupportedMediaType},
		{"bad media type", "application/json; =", `{`, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newBodyHandler(1024)
			rec := post(h, tt.ct, tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body.String())
			}
			if tt.status >= 400 {
				var resp struct {
					Success bool   `json:"success"`
					Message string `json:"message"`
				}
				if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
					t.Fatalf("error body not json: %v", err)
				}
				if resp.Success || resp.Message == "" {
					t.Fatalf("error body = %+v", resp)
				}
			}
		})
	}
}

func TestParseBody_Form(t *testing.T) {
	h, c := newBodyHandler(1024)
	rec := post(h, "application/x-www-form-urlencoded", "email=a%40b.c&user[name]=ann&tags[]=x&tags[]=y")

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if c.body.Kind != BodyForm {
		t.Fatalf("kind = %q", c.body.Kind)
	}
	m := c.body.Value.(map[string]any)
	if m["email"] != "a@b.c" {
		t.Fatalf("email = %v", m["email"])
	}
	if u, _ := m["user"].(map[string]any); u["name"] != "ann" {
		t.Fatalf("user = %#v", m["user"])
	}
	if tags, _ := m["tags"].([]any); len(tags) != 2 || tags[1] != "y" {
		t.Fatalf("tags = %#v", m["tags"])
	}
}

func TestParseBody_TooLarge(t *testing.T) {
	h, c := newBodyHandler(16)
	rec := post(h, "application/json", `{"password":"much too long for the limit"}`)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
	if c.called {
		t.Fatal("next handler should not run")
	}
}

func TestParseBody_ChunkedTooLarge(t *testing.T) {
	h, _ := newBodyHandler(16)
	req := httptest.NewRequest(http.MethodPost, "/", io.NopCloser(strings.NewReader(strings.Repeat("x", 64))))
	req.ContentLength = -1
	req.TransferEncoding = []string{"chunked"}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestParseBody_PassThrough(t *testing.T) {
	tests := []struct {
		name string
		ct   string
		body string
	}{
		{"no content type", "", "raw"},
		{"text", "text/plain", "hello"},
		{"multipart", "multipart/form-data; boundary=x", "--x--"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, c := newBodyHandler(1024)
			rec := post(h, tt.ct, tt.body)
			if rec.Code != http.StatusNoContent {
				t.Fatalf("status = %d", rec.Code)
			}
			if c.ok {
				t.Fatal("no payload should be stored")
			}
			if c.raw != tt.body {
				t.Fatalf("downstream body = %q", c.raw)
			}
		})
	}
}

func TestParseBody_NoBody(t *testing.T) {
	h, c := newBodyHandler(1024)
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if !c.called || c.ok {
		t.Fatalf("called=%v ok=%v", c.called, c.ok)
	}
}

func TestDecodeBody(t *testing.T) {
	type login struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	t.Run("json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
		req = req.WithContext(withBody(req, Body{Kind: BodyJSON, Raw: []byte(`{"email":"e","password":"p"}`)}))
		var dst login
		if err := DecodeBody(req, &dst); err != nil {
			t.Fatal(err)
		}
		if dst.Email != "e" || dst.Password != "p" {
			t.Fatalf("dst = %+v", dst)
		}
	})

	t.Run("form", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
		req = req.WithContext(withBody(req, Body{Kind: BodyForm, Value: map[string]any{"email": "e", "password": "p"}}))
		var dst login
		if err := DecodeBody(req, &dst); err != nil {
			t.Fatal(err)
		}
		if dst.Email != "e" {
			t.Fatalf("dst = %+v", dst)
		}
	})

	t.Run("shape mismatch", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
		req = req.WithContext(withBody(req, Body{Kind: BodyJSON, Raw: []byte(`{"email":5}`)}))
		var dst login
		err := DecodeBody(req, &dst)
		if httperr.StatusOf(err) != http.StatusBadRequest {
			t.Fatalf("err = %v, want 400", err)
		}
	})

	t.Run("absent", func(t *testing.T) {
		var dst login
		if err := DecodeBody(httptest.NewRequest(http.MethodPost, "/", http.NoBody), &dst); err != nil {
			t.Fatal(err)
		}
	})
}
