// Package testserver implements an in-memory DreamFactory-style system API
// for tests and local development: the list envelope, the error envelope,
// simple filter/order evaluation, and fault injection.
package testserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// record is a loosely typed row; the mock stores whatever it is given.
type record = map[string]any

// Server holds per-resource record sets behind a chi router.
type Server struct {
	mu       sync.Mutex
	data     map[string][]record
	nextID   map[string]int
	failures int
	failCode int
	requests int

	router chi.Router
	logger zerolog.Logger
}

// New creates an empty mock server.
func New(opts ...Option) *Server {
	s := &Server{
		data:   make(map[string][]record),
		nextID: make(map[string]int),
		logger: zerolog.Nop(),
	}
	for _, o := range opts {
		o(s)
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Route("/api/v2/{service}/{resource}", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Post("/", s.handleCreate)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Patch("/", s.handleUpdate)
			r.Put("/", s.handleUpdate)
			r.Delete("/", s.handleDelete)
		})
	})
	s.router = r
	return s
}

// Option configures a Server.
type Option func(*Server)

// WithLogger attaches a logger; requests are logged at debug level.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Seed replaces a resource's records, assigning ids where absent.
func (s *Server) Seed(resource string, recs []map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([]record, 0, len(recs))
	for _, r := range recs {
		row := record{}
		for k, v := range r {
			row[k] = v
		}
		if _, ok := row["id"]; !ok {
			row["id"] = s.allocID(resource)
		} else if id, ok := asInt(row["id"]); ok && id >= s.nextID[resource] {
			s.nextID[resource] = id + 1
		}
		rows = append(rows, row)
	}
	s.data[resource] = rows
}

// FailNext makes the next n requests fail with the given HTTP status.
func (s *Server) FailNext(n, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
	s.failCode = status
}

// Requests reports how many requests reached a handler.
func (s *Server) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// Records returns a copy of a resource's current rows, in storage order.
func (s *Server) Records(resource string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, len(s.data[resource]))
	for i, row := range s.data[resource] {
		cp := map[string]any{}
		for k, v := range row {
			cp[k] = v
		}
		out[i] = cp
	}
	return out
}

// admit counts the request and consumes one injected failure if armed.
// Returns the status to fail with, or 0 to proceed.
func (s *Server) admit(r *http.Request) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++
	s.logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).Msg("mock request")
	if s.failures > 0 {
		s.failures--
		return s.failCode
	}
	return 0
}

func resourceName(r *http.Request) string {
	return chi.URLParam(r, "service") + "/" + chi.URLParam(r, "resource")
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if code := s.admit(r); code != 0 {
		writeError(w, code, "injected failure")
		return
	}

	s.mu.Lock()
	rows := append([]record(nil), s.data[resourceName(r)]...)
	s.mu.Unlock()

	q := r.URL.Query()
	if f := q.Get("filter"); f != "" {
		rows = applyFilter(rows, f)
	}
	if o := q.Get("order"); o != "" {
		applyOrder(rows, o)
	}

	total := len(rows)
	offset, _ := strconv.Atoi(q.Get("offset"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	if offset > len(rows) {
		offset = len(rows)
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"resource": rows,
		"meta":     map[string]int{"count": total, "limit": limit, "offset": offset},
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if code := s.admit(r); code != 0 {
		writeError(w, code, "injected failure")
		return
	}
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.data[resourceName(r)] {
		if rid, ok := asInt(row["id"]); ok && rid == id {
			writeJSON(w, http.StatusOK, row)
			return
		}
	}
	writeError(w, http.StatusNotFound, fmt.Sprintf("record %d not found", id))
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	if code := s.admit(r); code != 0 {
		writeError(w, code, "injected failure")
		return
	}

	var body struct {
		Resource []record `json:"resource"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	name := resourceName(r)
	ids := make([]map[string]int, 0, len(body.Resource))

	s.mu.Lock()
	for _, row := range body.Resource {
		id := s.allocID(name)
		row["id"] = id
		s.data[name] = append(s.data[name], row)
		ids = append(ids, map[string]int{"id": id})
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{"resource": ids})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if code := s.admit(r); code != 0 {
		writeError(w, code, "injected failure")
		return
	}
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))

	var patch record
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	name := resourceName(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.data[name] {
		rid, ok := asInt(row["id"])
		if !ok || rid != id {
			continue
		}
		if r.Method == http.MethodPut {
			for k := range row {
				if k != "id" {
					delete(row, k)
				}
			}
		}
		for k, v := range patch {
			if k != "id" {
				row[k] = v
			}
		}
		writeJSON(w, http.StatusOK, map[string]int{"id": id})
		return
	}
	writeError(w, http.StatusNotFound, fmt.Sprintf("record %d not found", id))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if code := s.admit(r); code != 0 {
		writeError(w, code, "injected failure")
		return
	}
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))

	name := resourceName(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.data[name]
	for i, row := range rows {
		if rid, ok := asInt(row["id"]); ok && rid == id {
			s.data[name] = append(rows[:i:i], rows[i+1:]...)
			writeJSON(w, http.StatusOK, map[string]int{"id": id})
			return
		}
	}
	writeError(w, http.StatusNotFound, fmt.Sprintf("record %d not found", id))
}

// allocID must be called with s.mu held.
func (s *Server) allocID(resource string) int {
	if s.nextID[resource] == 0 {
		s.nextID[resource] = 1
	}
	id := s.nextID[resource]
	s.nextID[resource]++
	return id
}

// applyFilter evaluates a disjunction of simple clauses:
// `(field like "%value%") or (field = value)`.
func applyFilter(rows []record, filter string) []record {
	clauses := strings.Split(filter, " or ")
	var out []record
	for _, row := range rows {
		for _, clause := range clauses {
			if matchClause(row, clause) {
				out = append(out, row)
				break
			}
		}
	}
	return out
}

func matchClause(row record, clause string) bool {
	clause = strings.TrimSpace(clause)
	clause = strings.TrimPrefix(clause, "(")
	clause = strings.TrimSuffix(clause, ")")

	if field, pattern, ok := splitOperator(clause, " like "); ok {
		val := stringValue(row[field])
		pattern = strings.Trim(pattern, `"`)
		needle := strings.Trim(pattern, "%")
		switch {
		case strings.HasPrefix(pattern, "%") && strings.HasSuffix(pattern, "%"):
			return strings.Contains(val, needle)
		case strings.HasSuffix(pattern, "%"):
			return strings.HasPrefix(val, needle)
		case strings.HasPrefix(pattern, "%"):
			return strings.HasSuffix(val, needle)
		default:
			return val == needle
		}
	}
	if field, want, ok := splitOperator(clause, "="); ok {
		return stringValue(row[field]) == strings.Trim(strings.TrimSpace(want), `"`)
	}
	return false
}

func splitOperator(clause, op string) (field, value string, ok bool) {
	i := strings.Index(clause, op)
	if i < 0 {
		return "", "", false
	}
	return strings.TrimSpace(clause[:i]), strings.TrimSpace(clause[i+len(op):]), true
}

func applyOrder(rows []record, order string) {
	parts := strings.Fields(order)
	if len(parts) == 0 {
		return
	}
	field := parts[0]
	desc := len(parts) > 1 && strings.EqualFold(parts[1], "desc")

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i][field], rows[j][field]
		af, aok := asFloat(a)
		bf, bok := asFloat(b)
		var less bool
		if aok && bok {
			less = af < bf
		} else {
			less = stringValue(a) < stringValue(b)
		}
		if desc {
			return !less
		}
		return less
	})
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	default:
		return 0, false
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data) //nolint:errcheck // best effort on a mock
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":        status,
			"message":     message,
			"status_code": status,
		},
	})
}
