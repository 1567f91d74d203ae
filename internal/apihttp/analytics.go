package apihttp

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/keithlinneman/insightdash/internal/authn"
	"github.com/keithlinneman/insightdash/internal/httperr"
	"github.com/keithlinneman/insightdash/internal/httpmw"
	"github.com/keithlinneman/insightdash/internal/store"
	"github.com/keithlinneman/insightdash/internal/xerrors"
)

const (
	maxEventNameLen  = 100
	maxEventPathLen  = 2048
	maxUserAgentLen  = 512
	defaultSummarize = 30 * 24 * time.Hour
)

type eventRequest struct {
	Name       string          `json:"name"`
	Path       string          `json:"path"`
	Referrer   string          `json:"referrer"`
	Properties json.RawMessage `json:"properties"`
}

type eventAccepted struct {
	Success bool      `json:"success"`
	ID      uuid.UUID `json:"id"`
}

type summaryResponse struct {
	Success bool      `json:"success"`
	From    time.Time `json:"from"`
	To      time.Time `json:"to"`
	store.Summary
}

type eventsResponse struct {
	Success bool          `json:"success"`
	Events  []store.Event `json:"events"`
}

// Analytics serves event collection and the caller's reports.
func (api *API) Analytics() http.Handler {
	r := api.router("analytics")
	r.With(authn.Optional(api.tokens)).Post("/events", api.handle(api.collect))
	r.Group(func(r chi.Router) {
		r.Use(api.requireAuth())
		r.Get("/summary", api.handle(api.summary))
		r.Get("/events", api.handle(api.recent))
	})
	return r
}

func (api *API) collect(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	var req eventRequest
	if err := httpmw.DecodeBody(r, &req); err != nil {
		return err
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len(req.Name) > maxEventNameLen {
		return httperr.BadRequest("event name is required (max 100 characters)")
	}
	if len(req.Path) > maxEventPathLen || len(req.Referrer) > maxEventPathLen {
		return httperr.BadRequest("path and referrer are limited to 2048 characters")
	}
	props := bytes.TrimSpace(req.Properties)
	if len(props) == 0 || bytes.Equal(props, []byte("null")) {
		props = nil
	} else if props[0] != '{' {
		return httperr.BadRequest("properties must be an object")
	}

	e := store.Event{
		Name:       req.Name,
		Path:       req.Path,
		Referrer:   req.Referrer,
		Properties: json.RawMessage(props),
		ClientIP:   httpmw.ClientIPFromContext(ctx),
		UserAgent:  truncate(r.UserAgent(), maxUserAgentLen),
	}
	p, authed := authn.FromContext(ctx)
	if authed {
		e.UserID = uuid.NullUUID{UUID: p.UserID, Valid: true}
	}

	saved, err := api.events.Insert(ctx, e)
	if err != nil {
		return xerrors.Wrap(err, "record event")
	}
	if api.metrics != nil {
		api.metrics.IncEvent(authed)
	}
	api.writeJSON(ctx, w, http.StatusAccepted, eventAccepted{Success: true, ID: saved.ID})
	return nil
}

func (api *API) summary(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	q := r.URL.Query()

	to := api.now().UTC()
	if v := q.Get("to"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return httperr.BadRequest("to must be RFC 3339 or YYYY-MM-DD")
		}
		to = t
	}
	from := to.Add(-defaultSummarize)
	if v := q.Get("from"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return httperr.BadRequest("from must be RFC 3339 or YYYY-MM-DD")
		}
		from = t
	}
	if !from.Before(to) {
		return httperr.BadRequest("from must be before to")
	}

	s, err := api.events.Summary(ctx, store.SummaryFilter{From: from, To: to, Name: strings.TrimSpace(q.Get("name"))})
	if err != nil {
		return xerrors.Wrap(err, "summarize events")
	}
	api.writeJSON(ctx, w, http.StatusOK, summaryResponse{Success: true, From: from, To: to, Summary: s})
	return nil
}

func (api *API) recent(w http.ResponseWriter, r *http.Request) error {
	p, err := principal(r)
	if err != nil {
		return err
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return httperr.BadRequest("limit must be a positive integer")
		}
		limit = n
	}
	evs, err := api.events.Recent(r.Context(), p.UserID, limit)
	if err != nil {
		return xerrors.Wrap(err, "load recent events")
	}
	api.writeJSON(r.Context(), w, http.StatusOK, eventsResponse{Success: true, Events: evs})
	return nil
}

// parseTime accepts RFC 3339 timestamps and bare dates, the latter at
// midnight UTC.
func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// truncate caps s at n bytes without splitting a rune. Invalid UTF-8 is
// dropped since text columns reject it.
func truncate(s string, n int) string {
	s = strings.ToValidUTF8(s, "")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
