package httpmw

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/keithlinneman/insightdash/internal/httperr"
	"github.com/keithlinneman/insightdash/internal/xerrors"
)

// BodyKind identifies which parser produced a Body.
type BodyKind string

const (
	BodyJSON BodyKind = "json"
	BodyForm BodyKind = "urlencoded"
)

// Body is the parsed request payload. Raw is the exact bytes received and
// Value the decoded tree (map[string]any or []any, numbers as json.Number).
type Body struct {
	Kind  BodyKind
	Raw   []byte
	Value any
}

type bodyKey struct{}

// BodyFromContext returns the payload parsed for the request, if any.
func BodyFromContext(ctx context.Context) (Body, bool) {
	b, ok := ctx.Value(bodyKey{}).(Body)
	return b, ok
}

// DecodeBody unmarshals the parsed payload into dst. Requests without a
// parsed payload decode as an empty object.
func DecodeBody(r *http.Request, dst any) error {
	b, ok := BodyFromContext(r.Context())
	if !ok {
		return nil
	}
	raw := b.Raw
	if b.Kind != BodyJSON || len(bytes.TrimSpace(raw)) == 0 {
		var err error
		if raw, err = json.Marshal(b.Value); err != nil {
			return httperr.Internal(xerrors.Wrap(err, "re-encode form payload"))
		}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return httperr.Wrap(err, http.StatusBadRequest, "invalid_body", "request body does not match the expected shape")
	}
	return nil
}

type BodyOptions struct {
	// Limit is the max accepted body in bytes.
	Limit int64
	// Errors receives parse failures.
	Errors httperr.ErrorHandler
}

// ParseBody decodes application/json and application/x-www-form-urlencoded
// bodies up to opts.Limit and stores the result in the request context.
// Other content types pass through untouched. The body stays readable
// downstream.
func ParseBody(opts BodyOptions) func(http.Handler) http.Handler {
	if opts.Limit <= 0 {
		opts.Limit = 100 * 1024
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !hasBody(r) {
				next.ServeHTTP(w, r)
				return
			}
			kind, charset, ok := bodyKind(r.Header.Get("Content-Type"))
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			if charset != "" && charset != "utf-8" && !(kind == BodyForm && charset == "us-ascii") {
				opts.Errors.ServeError(w, r, httperr.UnsupportedMediaType("unsupported charset \""+strings.ToUpper(charset)+"\""))
				return
			}
			if r.ContentLength > opts.Limit {
				opts.Errors.ServeError(w, r, &http.MaxBytesError{Limit: opts.Limit})
				return
			}

			raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, opts.Limit))
			_ = r.Body.Close()
			if err != nil {
				opts.Errors.ServeError(w, r, readError(err))
				return
			}

			b := Body{Kind: kind, Raw: raw}
			switch kind {
			case BodyJSON:
				b.Value, err = parseJSON(raw)
			case BodyForm:
				b.Value, err = parseForm(string(raw))
			}
			if err != nil {
				opts.Errors.ServeError(w, r, httperr.Wrap(err, http.StatusBadRequest, "invalid_body", "malformed request body"))
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(raw))
			ctx := context.WithValue(r.Context(), bodyKey{}, b)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// hasBody mirrors the usual rule: chunked or a non-zero Content-Length.
func hasBody(r *http.Request) bool {
	if r.Body == nil || r.Body == http.NoBody {
		return false
	}
	return len(r.TransferEncoding) > 0 || r.ContentLength != 0
}

func bodyKind(contentType string) (BodyKind, string, bool) {
	if contentType == "" {
		return "", "", false
	}
	mt, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", "", false
	}
	charset := strings.ToLower(params["charset"])
	switch mt {
	case "application/json":
		return BodyJSON, charset, true
	case "application/x-www-form-urlencoded":
		return BodyForm, charset, true
	}
	return "", "", false
}

// parseJSON accepts only objects and arrays at the top level. An empty or
// whitespace-only body decodes to an empty object.
func parseJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return map[string]any{}, nil
	}
	if trimmed[0] != '{' && trimmed[0] != '[' {
		return nil, xerrors.Newf("json body must be an object or array, got %q", trimmed[:1])
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, xerrors.Wrap(err, "decode json body")
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, xerrors.New("unexpected data after json body")
	}
	return v, nil
}

func readError(err error) error {
	var maxErr *http.MaxBytesError
	if xerrors.As(err, &maxErr) {
		return err
	}
	if xerrors.Is(err, context.Canceled) {
		return err
	}
	return httperr.Wrap(err, http.StatusBadRequest, "request_aborted", "request aborted")
}
