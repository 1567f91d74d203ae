package authn

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/keithlinneman/insightdash/internal/httperr"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func init() { BcryptCost = bcrypt.MinCost }

func newTestIssuer(t *testing.T, now time.Time) *Issuer {
	t.Helper()
	iss, err := NewIssuer(testSecret, "insightdash", time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	iss.now = func() time.Time { return now }
	return iss
}

func TestPassword(t *testing.T) {
	h, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := CheckPassword(h, "correct horse"); err != nil {
		t.Fatalf("CheckPassword(match) = %v", err)
	}
	if err := CheckPassword(h, "wrong horse!"); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("CheckPassword(mismatch) = %v", err)
	}
	if err := CheckPassword("not-a-hash", "whatever1"); err == nil || errors.Is(err, ErrBadCredentials) {
		t.Fatalf("CheckPassword(bad hash) = %v", err)
	}
}

func TestHashPassword_Length(t *testing.T) {
	for _, pw := range []string{"", "short", strings.Repeat("x", MaxPasswordLen+1)} {
		if _, err := HashPassword(pw); !errors.Is(err, ErrPasswordLength) {
			t.Errorf("len %d: err = %v", len(pw), err)
		}
	}
	if _, err := HashPassword(strings.Repeat("x", MaxPasswordLen)); err != nil {
		t.Errorf("max length rejected: %v", err)
	}
}

func TestNewIssuer_Validation(t *testing.T) {
	if _, err := NewIssuer([]byte("short"), "x", time.Hour); err == nil {
		t.Error("short secret accepted")
	}
	if _, err := NewIssuer(testSecret, "x", 0); err == nil {
		t.Error("zero ttl accepted")
	}
}

func TestIssueVerify(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	iss := newTestIssuer(t, now)
	uid := uuid.New()

	tok, exp, err := iss.Issue(uid, "admin")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !exp.Equal(now.Add(time.Hour)) {
		t.Fatalf("exp = %v", exp)
	}

	p, err := iss.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.UserID != uid || p.Role != "admin" {
		t.Fatalf("principal = %+v", p)
	}
}

func TestVerify_Rejects(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	iss := newTestIssuer(t, now)
	good, _, _ := iss.Issue(uuid.New(), "user")

	expired := newTestIssuer(t, now.Add(-2*time.Hour))
	old, _, _ := expired.Issue(uuid.New(), "user")

	other, _ := NewIssuer([]byte("ffffffffffffffffffffffffffffffff"), "insightdash", time.Hour)
	foreign, _, _ := other.Issue(uuid.New(), "user")

	wrongIss, _ := NewIssuer(testSecret, "someone-else", time.Hour)
	wrongIssuer, _, _ := wrongIss.Issue(uuid.New(), "user")

	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "insightdash",
			Subject:   uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	hs512, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "insightdash",
			Subject:   uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}).SignedString(testSecret)

	noExp, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "insightdash", Subject: uuid.NewString()},
	}).SignedString(testSecret)

	badSub, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "insightdash",
			Subject:   "42",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}).SignedString(testSecret)

	tests := map[string]string{
		"garbage":      "not.a.token",
		"tampered":     splice(good, foreign),
		"expired":      old,
		"foreign key":  foreign,
		"wrong issuer": wrongIssuer,
		"alg none":     none,
		"alg hs512":    hs512,
		"no exp":       noExp,
		"bad subject":  badSub,
	}
	for name, tok := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := iss.Verify(tok); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("err = %v, want ErrInvalidToken", err)
			}
		})
	}
}

// splice joins the header and signature of a with the payload of b.
func splice(a, b string) string {
	pa, pb := strings.Split(a, "."), strings.Split(b, ".")
	return pa[0] + "." + pb[1] + "." + pa[2]
}

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		header string
		cookie string
		want   string
	}{
		{"bearer", "Bearer abc", "", "abc"},
		{"bearer lowercase", "bearer abc", "", "abc"},
		{"header wins", "Bearer abc", "def", "abc"},
		{"cookie", "", "def", "def"},
		{"basic ignored", "Basic Zm9vOmJhcg==", "def", ""},
		{"none", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				r.AddCookie(&http.Cookie{Name: CookieName, Value: tt.cookie})
			}
			if got := TokenFromRequest(r); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCookies(t *testing.T) {
	rec := httptest.NewRecorder()
	SetCookie(rec, "abc", 3600, true)
	c := rec.Result().Cookies()[0]
	if c.Name != CookieName || c.Value != "abc" || !c.HttpOnly || !c.Secure || c.MaxAge != 3600 {
		t.Fatalf("cookie = %+v", c)
	}

	rec = httptest.NewRecorder()
	ClearCookie(rec, false)
	c = rec.Result().Cookies()[0]
	if c.Value != "" || c.MaxAge >= 0 {
		t.Fatalf("cleared cookie = %+v", c)
	}
}

func decodeMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var b struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return b.Message
}

func TestMiddleware(t *testing.T) {
	iss := newTestIssuer(t, time.Now())
	errs := httperr.NewHandler(httperr.Options{})
	uid := uuid.New()
	userTok, _, _ := iss.Issue(uid, "user")
	adminTok, _, _ := iss.Issue(uid, "admin")

	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := FromContext(r.Context())
		if !ok {
			_, _ = w.Write([]byte("anonymous"))
			return
		}
		_, _ = w.Write([]byte(p.UserID.String() + " " + p.Role))
	})

	do := func(h http.Handler, tok string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tok != "" {
			r.Header.Set("Authorization", "Bearer "+tok)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec
	}

	t.Run("optional", func(t *testing.T) {
		h := Optional(iss)(echo)
		if rec := do(h, ""); rec.Body.String() != "anonymous" {
			t.Fatalf("no token: %q", rec.Body.String())
		}
		if rec := do(h, "garbage"); rec.Code != http.StatusOK || rec.Body.String() != "anonymous" {
			t.Fatalf("bad token: %d %q", rec.Code, rec.Body.String())
		}
		if rec := do(h, userTok); rec.Body.String() != uid.String()+" user" {
			t.Fatalf("good token: %q", rec.Body.String())
		}
	})

	t.Run("require", func(t *testing.T) {
		h := Require(iss, errs)(echo)
		for _, tok := range []string{"", "garbage"} {
			rec := do(h, tok)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("token %q: status = %d", tok, rec.Code)
			}
			if msg := decodeMessage(t, rec); !strings.Contains(msg, "Not authorized") {
				t.Fatalf("message = %q", msg)
			}
		}
		if rec := do(h, userTok); rec.Code != http.StatusOK {
			t.Fatalf("good token: status = %d", rec.Code)
		}
	})

	t.Run("require role", func(t *testing.T) {
		h := Require(iss, errs)(RequireRole(errs, "admin")(echo))
		if rec := do(h, userTok); rec.Code != http.StatusForbidden {
			t.Fatalf("user: status = %d", rec.Code)
		}
		if rec := do(h, adminTok); rec.Code != http.StatusOK || rec.Body.String() != uid.String()+" admin" {
			t.Fatalf("admin: %d %q", rec.Code, rec.Body.String())
		}
		bare := RequireRole(errs, "admin")(echo)
		if rec := do(bare, ""); rec.Code != http.StatusUnauthorized {
			t.Fatalf("no principal: status = %d", rec.Code)
		}
	})
}
