package apihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/keithlinneman/insightdash/internal/authn"
	"github.com/keithlinneman/insightdash/internal/httperr"
	"github.com/keithlinneman/insightdash/internal/httpmw"
	"github.com/keithlinneman/insightdash/internal/store"
)

func init() { authn.BcryptCost = bcrypt.MinCost }

// memUsers is an in-memory UserStore.
type memUsers struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]store.User
	fail  error
	clock time.Time
}

func newMemUsers() *memUsers {
	return &memUsers{byID: map[uuid.UUID]store.User{}, clock: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (m *memUsers) Create(_ context.Context, u store.User) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return store.User{}, m.fail
	}
	u.Email = store.NormalizeEmail(u.Email)
	for _, x := range m.byID {
		if x.Email == u.Email {
			return store.User{}, store.ErrEmailTaken
		}
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Role == "" {
		u.Role = store.RoleUser
	}
	m.clock = m.clock.Add(time.Second)
	u.CreatedAt, u.UpdatedAt = m.clock, m.clock
	m.byID[u.ID] = u
	return u, nil
}

func (m *memUsers) ByEmail(_ context.Context, email string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = store.NormalizeEmail(email)
	for _, u := range m.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (m *memUsers) ByID(_ context.Context, id uuid.UUID) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return u, nil
}

func (m *memUsers) List(context.Context) ([]store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.User, 0, len(m.byID))
	for _, u := range m.byID {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memUsers) UpdateRole(_ context.Context, id uuid.UUID, role store.Role) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !role.Valid() {
		return store.User{}, store.ErrInvalid
	}
	u, ok := m.byID[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	u.Role = role
	m.byID[id] = u
	return u, nil
}

func (m *memUsers) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.byID, id)
	return nil
}

func (m *memUsers) Count(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.byID)), nil
}

// memEvents is an in-memory EventStore.
type memEvents struct {
	mu      sync.Mutex
	events  []store.Event
	filters []store.SummaryFilter
	since   []time.Time
	limits  []int
}

func (m *memEvents) Insert(_ context.Context, e store.Event) (store.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	m.events = append(m.events, e)
	return e, nil
}

func (m *memEvents) Recent(_ context.Context, userID uuid.UUID, limit int) ([]store.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits = append(m.limits, limit)
	out := []store.Event{}
	for i := len(m.events) - 1; i >= 0; i-- {
		if e := m.events[i]; e.UserID.Valid && e.UserID.UUID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memEvents) Summary(_ context.Context, f store.SummaryFilter) (store.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filters = append(m.filters, f)
	counts := map[string]int64{}
	for _, e := range m.events {
		if f.Name == "" || e.Name == f.Name {
			counts[e.Name]++
		}
	}
	s := store.Summary{ByName: []store.NameCount{}, ByDay: []store.DayCount{}}
	for n, c := range counts {
		s.Total += c
		s.ByName = append(s.ByName, store.NameCount{Name: n, Count: c})
	}
	return s, nil
}

func (m *memEvents) Count(_ context.Context, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.since = append(m.since, since)
	if since.IsZero() {
		return int64(len(m.events)), nil
	}
	return 1, nil
}

type fakeMetrics struct {
	mu     sync.Mutex
	auth   map[string]int
	events map[bool]int
}

func (f *fakeMetrics) ObserveAuth(action, outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auth[action+"/"+outcome]++
}

func (f *fakeMetrics) IncEvent(authenticated bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[authenticated]++
}

type fixture struct {
	t       *testing.T
	api     *API
	users   *memUsers
	events  *memEvents
	metrics *fakeMetrics
	tokens  *authn.Issuer
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tokens, err := authn.NewIssuer([]byte("0123456789abcdef0123456789abcdef"), "insightdash", time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	f := &fixture{
		t:       t,
		users:   newMemUsers(),
		events:  &memEvents{},
		metrics: &fakeMetrics{auth: map[string]int{}, events: map[bool]int{}},
		tokens:  tokens,
		now:     time.Now(),
	}
	f.api, err = New(Options{
		Errors:  httperr.NewHandler(httperr.Options{}),
		Users:   f.users,
		Events:  f.events,
		Tokens:  tokens,
		Metrics: f.metrics,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.api.now = func() time.Time { return f.now }
	return f
}

// serve runs req through body parsing and h, the way the pipeline does.
func (f *fixture) serve(h http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	f.t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	r = r.WithContext(httpmw.WithClientIP(r.Context(), "198.51.100.7"))
	rec := httptest.NewRecorder()
	httpmw.ParseBody(httpmw.BodyOptions{Errors: f.api.errs})(h).ServeHTTP(rec, r)
	return rec
}

// seed creates a user with password "password123" and returns it with a
// valid token.
func (f *fixture) seed(email string, role store.Role) (store.User, string) {
	f.t.Helper()
	hash, err := authn.HashPassword("password123")
	if err != nil {
		f.t.Fatalf("hash: %v", err)
	}
	u, err := f.users.Create(context.Background(), store.User{Name: "Seed", Email: email, PasswordHash: hash, Role: role})
	if err != nil {
		f.t.Fatalf("seed: %v", err)
	}
	tok, _, err := f.tokens.Issue(u.ID, string(role))
	if err != nil {
		f.t.Fatalf("issue: %v", err)
	}
	return u, tok
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return m
}
