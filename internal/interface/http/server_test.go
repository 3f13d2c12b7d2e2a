package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/analizadordatos/smart-analytics/internal/application/command"
	"github.com/analizadordatos/smart-analytics/internal/application/query"
	"github.com/analizadordatos/smart-analytics/internal/domain/access"
	"github.com/analizadordatos/smart-analytics/internal/domain/analytics"
	"github.com/analizadordatos/smart-analytics/internal/domain/roster"
	"github.com/analizadordatos/smart-analytics/internal/domain/shared"
	"github.com/analizadordatos/smart-analytics/internal/interface/http/handlers"
	"github.com/analizadordatos/smart-analytics/pkg/logger"
)

// ─────────────────────────────────────────────────────────────────────────────
// fixtures
// ─────────────────────────────────────────────────────────────────────────────

type memSessions struct {
	mu         sync.Mutex
	byToken    map[string]*access.Session
	terminated []string
}

func (m *memSessions) Lookup(_ context.Context, token string) (*access.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byToken[token]
	if !ok {
		return nil, shared.ErrSessionNotFound
	}
	return s, nil
}

func (m *memSessions) Terminate(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byToken, token)
	m.terminated = append(m.terminated, token)
	return nil
}

type testEnv struct {
	server   *Server
	handler  http.Handler
	sessions *memSessions
	rosters  *roster.Context
	imports  *bool
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	rc := roster.NewContext()
	_, err := rc.Replace(context.Background(), &roster.Batch{
		ID:        "b-1",
		Tag:       "Carga_20260105_081500",
		Source:    roster.SourceAnalyze,
		CreatedAt: time.Date(2026, 1, 5, 8, 15, 0, 0, time.UTC),
		Records: []roster.StudentRecord{
			{ID: 1, Name: "Andrea Lopez", GradeAvg: 92, AttendanceAvg: 96, ConductAvg: 95, RiskProbability: 0.12,
				Recommendation: "💎 EXCELENCIA. Acciones: Asignar proyectos."},
			{ID: 2, Name: "Marco Diaz", GradeAvg: 64, AttendanceAvg: 70, ConductAvg: 72, RiskProbability: 0.82,
				Recommendation: "🚨 RIESGO INMINENTE (82.0%). Acciones: Tutoría focalizada."},
		},
	})
	require.NoError(t, err)

	sessions := &memSessions{byToken: map[string]*access.Session{
		"admin":   {Role: access.RoleAdmin, Identity: "dir@school.mx"},
		"docente": {Role: access.RoleDocente, Identity: "prof@school.mx"},
		"padre":   {Role: access.RolePadre, Identity: "andrea.lopez@mail.com"},
		"alumno":  {Role: access.RoleAlumno, Identity: "marco.diaz@mail.com"},
		"ghost":   {Role: access.RoleUnknown, Identity: "x@school.mx"},
	}}

	resolver := access.NewResolver(nil, access.IdentityMatcher{LegacyNameMatch: true})
	hash, err := bcrypt.GenerateFromPassword([]byte("svc-key"), bcrypt.MinCost)
	require.NoError(t, err)
	keys, _ := handlers.ParseServiceKeys([]string{"pipeline=" + string(hash)})

	importsEnabled := true
	cfg := DefaultConfig()
	cfg.RateLimitRPS = 0
	if mutate != nil {
		mutate(&cfg)
	}

	s := NewServer(cfg, Dependencies{
		GetSession:    query.NewGetSessionHandler(resolver),
		GetStudent:    query.NewGetStudentHandler(resolver, rc),
		ListStudents:  query.NewListStudentsHandler(resolver, rc),
		GetSummary:    query.NewGetSummaryHandler(resolver, rc),
		AnalyzeRoster: command.NewAnalyzeRosterHandler(resolver, analytics.NewAnalyzer(analytics.DefaultRiskModel()), rc),
		ImportRoster:  command.NewImportRosterHandler(rc),
		ClearRoster:   command.NewClearRosterHandler(resolver, rc),
		Logout:        command.NewLogoutHandler(sessions),
		Sessions:      sessions,
		ServiceAuth:   handlers.NewAPIKeyAuth("X-API-Key", keys),
		ImportEnabled: func(string) bool { return importsEnabled },
		HealthChecker: handlers.NewCompositeHealthChecker("test"),
		Logger:        logger.Nop(),
	})
	t.Cleanup(func() {
		if s.limiter != nil {
			s.limiter.stop()
		}
	})

	return &testEnv{server: s, handler: s.Handler(), sessions: sessions, rosters: rc, imports: &importsEnabled}
}

// from sends GET /live from the given peer address.
func (e *testEnv) from(t *testing.T, remoteAddr string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	req.RemoteAddr = remoteAddr
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) do(t *testing.T, method, path, token string, body []byte, headers ...string) (*httptest.ResponseRecorder, JSONResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var resp JSONResponse
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	}
	return rec, resp
}

func dataMap(t *testing.T, resp JSONResponse) map[string]any {
	t.Helper()
	m, ok := resp.Data.(map[string]any)
	require.True(t, ok, "data is %T", resp.Data)
	return m
}

func fullRow(name string, grade, attendance, conduct float64) map[string]any {
	row := map[string]any{
		analytics.ColName:       name,
		analytics.ColAttendance: attendance,
		analytics.ColConduct:    conduct,
	}
	for _, s := range analytics.Subjects {
		for tpc := 1; tpc <= analytics.TopicsPerSubject; tpc++ {
			row[analytics.GradeColumn(s, tpc)] = grade
		}
	}
	return row
}

// ─────────────────────────────────────────────────────────────────────────────
// tests
// ─────────────────────────────────────────────────────────────────────────────

func TestGetStudent_StatusMapping(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name   string
		token  string
		id     string
		status int
		code   string
	}{
		{"anonymous", "", "1", http.StatusUnauthorized, "unauthenticated"},
		{"expired token", "nope", "1", http.StatusUnauthorized, "unauthenticated"},
		{"unknown role", "ghost", "1", http.StatusForbidden, "forbidden"},
		{"admin any record", "admin", "2", http.StatusOK, ""},
		{"docente any record", "docente", "1", http.StatusOK, ""},
		{"padre own record", "padre", "1", http.StatusOK, ""},
		{"padre other record", "padre", "2", http.StatusForbidden, "forbidden"},
		{"alumno own record", "alumno", "2", http.StatusOK, ""},
		{"non numeric id", "admin", "abc", http.StatusBadRequest, "invalid_request"},
		{"absent id", "admin", "99", http.StatusNotFound, "not_found"},
		{"negative id", "admin", "-1", http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := env.do(t, http.MethodGet, "/api/v1/students/"+tt.id, tt.token, nil)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.code != "" {
				require.NotNil(t, resp.Error)
				assert.Equal(t, tt.code, resp.Error.Code)
			} else {
				assert.True(t, resp.Success)
			}
		})
	}
}

func TestGetStudent_RoleAdaptedText(t *testing.T) {
	env := newTestEnv(t, nil)

	_, resp := env.do(t, http.MethodGet, "/api/v1/students/2", "alumno", nil)
	text := dataMap(t, resp)["recomendacion_pedagogica"].(string)
	assert.NotContains(t, text, "RIESGO INMINENTE")
	assert.True(t, strings.HasSuffix(text, "¡Tú puedes lograr un gran avance!"))

	_, resp = env.do(t, http.MethodGet, "/api/v1/students/2", "docente", nil)
	assert.Contains(t, dataMap(t, resp)["recomendacion_pedagogica"], "RIESGO INMINENTE")
}

func TestListStudents(t *testing.T) {
	env := newTestEnv(t, nil)

	_, resp := env.do(t, http.MethodGet, "/api/v1/students", "docente", nil)
	assert.Equal(t, float64(2), dataMap(t, resp)["total"])
	assert.Equal(t, 2, resp.Meta.TotalCount)

	_, resp = env.do(t, http.MethodGet, "/api/v1/students", "padre", nil)
	students := dataMap(t, resp)["students"].([]any)
	require.Len(t, students, 1)
	assert.Equal(t, "Andrea Lopez", students[0].(map[string]any)["nombre"])

	_, resp = env.do(t, http.MethodGet, "/api/v1/students?at_risk=true", "admin", nil)
	assert.Equal(t, float64(1), dataMap(t, resp)["total"])

	rec, _ := env.do(t, http.MethodGet, "/api/v1/students", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSummary(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, resp := env.do(t, http.MethodGet, "/api/v1/roster/summary", "docente", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := dataMap(t, resp)
	assert.Equal(t, true, data["loaded"])
	assert.Equal(t, "Carga_20260105_081500", data["tag"])

	rec, _ = env.do(t, http.MethodGet, "/api/v1/roster/summary", "padre", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAnalyzeRoster(t *testing.T) {
	env := newTestEnv(t, nil)

	body, err := json.Marshal(map[string]any{"rows": []any{
		fullRow("Lucia Torres", 95, 98, 97),
		fullRow("Pedro Ruiz", 55, 60, 65),
		fullRow("Sofia Vega", 80, 90, 85),
	}})
	require.NoError(t, err)

	rec, _ := env.do(t, http.MethodPost, "/api/v1/roster/analyze", "docente", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, resp := env.do(t, http.MethodPost, "/api/v1/roster/analyze", "admin", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	data := dataMap(t, resp)
	assert.Equal(t, float64(3), data["records"])
	assert.Equal(t, "analyze", data["source"])
	assert.True(t, strings.HasPrefix(data["tag"].(string), "Carga_"))

	_, resp = env.do(t, http.MethodGet, "/api/v1/students/1", "admin", nil)
	assert.Equal(t, "Lucia Torres", dataMap(t, resp)["nombre"])
	_, resp = env.do(t, http.MethodGet, "/api/v1/students", "admin", nil)
	assert.Equal(t, float64(3), dataMap(t, resp)["total"])
}

func TestAnalyzeRoster_BareArrayAndErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	arr, err := json.Marshal([]any{fullRow("Lucia Torres", 95, 98, 97)})
	require.NoError(t, err)
	rec, _ := env.do(t, http.MethodPost, "/api/v1/roster/analyze", "admin", arr)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec, resp := env.do(t, http.MethodPost, "/api/v1/roster/analyze", "admin", []byte(`{"rows":[{"nombre":"x"}]}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, resp.Error.Message, "missing columns")

	rec, _ = env.do(t, http.MethodPost, "/api/v1/roster/analyze", "admin", []byte(`{not json`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/roster/analyze", "admin", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// A failed upload leaves the previous roster in place.
	_, resp = env.do(t, http.MethodGet, "/api/v1/students/1", "admin", nil)
	assert.Equal(t, "Lucia Torres", dataMap(t, resp)["nombre"])
}

func TestClearRoster(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, _ := env.do(t, http.MethodDelete, "/api/v1/roster", "docente", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = env.do(t, http.MethodDelete, "/api/v1/roster", "admin", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, env.rosters.Loaded())

	_, resp := env.do(t, http.MethodGet, "/api/v1/roster/summary", "admin", nil)
	assert.Equal(t, false, dataMap(t, resp)["loaded"])

	rec, _ = env.do(t, http.MethodGet, "/api/v1/students/1", "admin", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestImportRoster(t *testing.T) {
	env := newTestEnv(t, nil)
	body := []byte(`{"tag":"Carga_externa","records":[{"id":7,"nombre":"Ana Ruiz","probabilidad_riesgo":0.3,"promedio_gral_calificacion":81}]}`)

	rec, _ := env.do(t, http.MethodPost, "/api/v1/roster/import", "", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/roster/import", "", body, "X-API-Key", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	*env.imports = false
	rec, _ = env.do(t, http.MethodPost, "/api/v1/roster/import", "", body, "X-API-Key", "svc-key")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	*env.imports = true
	rec, resp := env.do(t, http.MethodPost, "/api/v1/roster/import", "", body, "X-API-Key", "svc-key")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "Carga_externa", dataMap(t, resp)["tag"])

	snap, err := env.rosters.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "pipeline", snap.Batch.CreatedBy)
	assert.Equal(t, roster.SourceImport, snap.Batch.Source)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/roster/import", "", []byte(`{"records":[{"id":1,"nombre":"x","probabilidad_riesgo":3}]}`), "X-API-Key", "svc-key")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, resp := env.do(t, http.MethodGet, "/api/v1/session", "padre", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := dataMap(t, resp)
	assert.Equal(t, "Padre", data["role"])
	assert.Equal(t, map[string]any{"view_record": "own", "list_records": "own"}, data["permissions"])

	rec, _ = env.do(t, http.MethodGet, "/api/v1/session", "ghost", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = env.do(t, http.MethodDelete, "/api/v1/session", "padre", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"padre"}, env.sessions.terminated)

	rec, _ = env.do(t, http.MethodGet, "/api/v1/session", "padre", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = env.do(t, http.MethodDelete, "/api/v1/session", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSessionCookie(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/students/1", nil)
	req.AddCookie(&http.Cookie{Name: "session_token", Value: "admin"})
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthAndMiddleware(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.MaxBodyBytes = 64 })

	rec, resp := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec, _ = env.do(t, http.MethodGet, "/live", "", nil, "X-Request-ID", "req-42")
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))

	big := bytes.Repeat([]byte("a"), 128)
	rec, _ = env.do(t, http.MethodPost, "/api/v1/roster/analyze", "admin", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec, _ = env.do(t, http.MethodOptions, "/api/v1/students", "", nil, "Origin", "https://app.school.mx")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.school.mx", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.RateLimitRPS = 0.001
		c.RateLimitBurst = 2
	})

	for i := 0; i < 2; i++ {
		rec, _ := env.do(t, http.MethodGet, "/live", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	rec, resp := env.do(t, http.MethodGet, "/live", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limit_exceeded", resp.Error.Code)

	// other clients keep their own bucket
	rec = env.from(t, "198.51.100.7:5000")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit_IgnoresForwardedHeadersFromUntrustedPeers(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.RateLimitRPS = 0.001
		c.RateLimitBurst = 1
	})

	limited := 0
	for i := 0; i < 50; i++ {
		rec := env.from(t, "203.0.113.5:40000",
			"X-Forwarded-For", fmt.Sprintf("10.1.%d.%d", i/250, i%250),
			"X-Real-IP", fmt.Sprintf("10.2.0.%d", i))
		if rec.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	assert.Equal(t, 49, limited)

	env.server.limiter.mu.Lock()
	defer env.server.limiter.mu.Unlock()
	assert.Len(t, env.server.limiter.visitors, 1)
	assert.Contains(t, env.server.limiter.visitors, "203.0.113.5")
}

func TestRateLimit_TrustedProxyForwardsClientIP(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.RateLimitRPS = 0.001
		c.RateLimitBurst = 1
		c.TrustedProxies = []string{"10.0.0.0/8", "192.168.1.10", "not-an-ip"}
	})

	rec := env.from(t, "10.3.3.3:8080", "X-Forwarded-For", "198.51.100.1, 10.3.3.3")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = env.from(t, "192.168.1.10:8080", "X-Forwarded-For", "198.51.100.2")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = env.from(t, "10.3.3.3:8080", "X-Real-IP", "198.51.100.3")
	assert.Equal(t, http.StatusOK, rec.Code)

	// same forwarded client through another trusted hop shares the bucket
	rec = env.from(t, "10.9.9.9:8080", "X-Forwarded-For", "198.51.100.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestClientIP(t *testing.T) {
	s := NewServer(Config{TrustedProxies: []string{"127.0.0.1", "::1"}}, Dependencies{Logger: logger.Nop()})

	tests := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{"untrusted peer", "203.0.113.5:1234", "1.2.3.4", "203.0.113.5"},
		{"trusted v4 peer", "127.0.0.1:1234", "1.2.3.4, 127.0.0.1", "1.2.3.4"},
		{"trusted v6 peer", "[::1]:1234", "2001:db8::1", "2001:db8::1"},
		{"trusted peer without header", "127.0.0.1:1234", "", "127.0.0.1"},
		{"no port", "203.0.113.9", "1.2.3.4", "203.0.113.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/live", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, s.clientIP(r))
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{shared.ErrNoSession, http.StatusUnauthorized},
		{shared.ErrInvalidToken, http.StatusUnauthorized},
		{shared.ErrIdentityMismatch, http.StatusForbidden},
		{shared.ErrUnknownRole, http.StatusForbidden},
		{shared.ErrStudentNotFound, http.StatusNotFound},
		{shared.ErrInvalidStudentID, http.StatusBadRequest},
		{shared.ErrDuplicateStudent, http.StatusConflict},
		{shared.WrapError("roster", "Replace", shared.ErrServiceUnavailable, "db", shared.ErrBatchNotFound), http.StatusServiceUnavailable},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		status, _ := statusFor(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
	}
}
