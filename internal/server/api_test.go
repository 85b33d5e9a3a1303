// ABOUTME: Tests for the token API, sensitive path guard, index and health routes
// ABOUTME: Drives the full handler with httptest against an in-memory backend

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/valueapi/internal/config"
	"github.com/2389/valueapi/internal/history"
	"github.com/2389/valueapi/internal/store"
	"github.com/2389/valueapi/internal/tokens"
)

const testToken = "test-token"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Storage.Driver = config.DriverFile
	cfg.Storage.Dir = t.TempDir()
	cfg.Auth.Token = testToken
	cfg.Admin.PasswordHash = string(hash)
	cfg.Admin.MaxLoginAttempts = 5
	cfg.Admin.LoginWindow = time.Minute
	cfg.History.Limit = 1000
	return cfg
}

func newTestServer(t *testing.T) (*Server, *store.MemoryBackend) {
	t.Helper()
	backend := store.NewMemoryBackend()
	s, err := newWithBackend(context.Background(), testConfig(t), backend, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s, backend
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestSensitivePathsForbidden(t *testing.T) {
	s, _ := newTestServer(t)

	for _, path := range []string{"/.env", "/config.json", "/history.json", "/settings.json", "/valueapi.db", "/Config.JSON"} {
		rec := do(t, s, http.MethodGet, path, "")
		assert.Equal(t, http.StatusForbidden, rec.Code, path)
		assert.Contains(t, rec.Body.String(), "Forbidden", path)
	}
}

func TestIndexPage(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "values.example:3000"
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<table>")
	assert.Contains(t, body, "http://values.example:3000/get?name=foo")
	assert.Contains(t, body, `href="/admin"`)
}

func TestTokenRequired(t *testing.T) {
	s, _ := newTestServer(t)

	for _, target := range []string{"/get?name=x", "/get?name=x&token=wrong", "/api/variables"} {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, target)
		assert.JSONEq(t, `{"error":"Invalid or missing token"}`, rec.Body.String(), target)
	}
}

func TestTokenSources(t *testing.T) {
	s, _ := newTestServer(t)
	_, err := s.vars.CreateVariable(context.Background(), "foo", "bar", "")
	require.NoError(t, err)

	query := httptest.NewRequest(http.MethodGet, "/get?name=foo&token="+testToken, nil)
	header := httptest.NewRequest(http.MethodGet, "/get?name=foo", nil)
	header.Header.Set("X-Token", testToken)

	for _, req := range []*http.Request{query, header} {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "bar", rec.Body.String())
	}
}

func TestGet(t *testing.T) {
	s, _ := newTestServer(t)
	_, err := s.vars.CreateVariable(context.Background(), "greeting", "你好", "")
	require.NoError(t, err)

	rec := do(t, s, http.MethodGet, "/get", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Missing variable name"}`, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/get?name=missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Variable not found"}`, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/get?name=greeting", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "你好", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
}

func TestGet_LogsTokenIdentity(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	s, err := newWithBackend(context.Background(), testConfig(t), store.NewMemoryBackend(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	ctx := context.Background()
	_, err = s.vars.CreateVariable(ctx, "greeting", "hi", "")
	require.NoError(t, err)
	ci, err := s.tokens.Add(ctx, "ci", "")
	require.NoError(t, err)

	rec := do(t, s, http.MethodGet, "/get?name=greeting", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, buf.String(), `"token":"Default","default_token":true`)

	buf.Reset()
	rec = do(t, s, http.MethodGet, "/get?name=greeting&token="+ci.Secret, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, buf.String(), `"token":"ci","default_token":false`)
}

func TestSet(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	_, err := s.vars.CreateVariable(ctx, "foo", "old", "")
	require.NoError(t, err)

	rec := do(t, s, http.MethodPost, "/set?name=foo", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Missing name or value"}`, rec.Body.String())

	rec = do(t, s, http.MethodPost, "/set?name=nope&value=1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodPost, "/set?name=foo&value=new", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[SetResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, store.Variable{Name: "foo", Value: "new", GroupID: store.DefaultGroupID}, resp.Variable)

	// Empty values are allowed
	rec = do(t, s, http.MethodPost, "/set?name=foo&value=", "")
	require.Equal(t, http.StatusOK, rec.Code)

	entries := s.vars.VariableHistory(ctx, "foo")
	require.Len(t, entries, 3)
	assert.Equal(t, history.ActionUpdate, entries[0].Action)
	assert.Equal(t, "", *entries[0].NewValue)
	assert.Equal(t, "new", *entries[0].OldValue)
	assert.Equal(t, "192.0.2.1", entries[0].IP)
}

func TestSet_SaveFailure(t *testing.T) {
	s, backend := newTestServer(t)
	_, err := s.vars.CreateVariable(context.Background(), "foo", "old", "")
	require.NoError(t, err)

	backend.FailWrites(errors.New("disk full"))
	rec := do(t, s, http.MethodPost, "/set?name=foo&value=new", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Save failed"}`, rec.Body.String())

	backend.FailWrites(nil)
	rec = do(t, s, http.MethodGet, "/get?name=foo", "")
	assert.Equal(t, "old", rec.Body.String())
}

func TestVariablesAPI(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/variables", `{"name":"db.host","value":"localhost"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[store.Variable](t, rec)
	assert.Equal(t, store.DefaultGroupID, created.GroupID)

	rec = do(t, s, http.MethodPost, "/api/variables", `{"name":"db.host","value":"x"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/variables", `{"name":"db.port","value":"5432","groupId":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/variables", `{"name":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/variables", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPut, "/api/variables/db.host", `{"value":"10.0.0.1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "10.0.0.1", decode[store.Variable](t, rec).Value)

	rec = do(t, s, http.MethodPut, "/api/variables/db.host", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPut, "/api/variables/missing", `{"value":"1"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/variables/db.host", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "10.0.0.1", decode[store.Variable](t, rec).Value)

	rec = do(t, s, http.MethodGet, "/api/variables?prefix=db.", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]store.Variable](t, rec), 1)

	rec = do(t, s, http.MethodGet, "/api/variables/db.host/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]history.Entry](t, rec)
	require.Len(t, entries, 2)
	assert.Equal(t, history.ActionUpdate, entries[0].Action)
	assert.Equal(t, history.ActionCreate, entries[1].Action)

	rec = do(t, s, http.MethodDelete, "/api/variables/db.host", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, s, http.MethodDelete, "/api/variables/db.host", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]history.Entry](t, rec), 3)

	rec = do(t, s, http.MethodGet, "/api/variables/never-set/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestGroupsAPI(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/groups", `{"name":"prod"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	g := decode[store.Group](t, rec)
	assert.NotEmpty(t, g.ID)

	rec = do(t, s, http.MethodPost, "/api/variables", `{"name":"a","value":"1","groupId":"`+g.ID+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, s, http.MethodPut, "/api/groups/"+g.ID, `{"name":"production"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "production", decode[store.Group](t, rec).Name)

	rec = do(t, s, http.MethodPut, "/api/groups/"+store.DefaultGroupID, `{"name":"x"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, s, http.MethodDelete, "/api/groups/"+store.DefaultGroupID, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/variables?group="+g.ID, "")
	assert.Len(t, decode[[]store.Variable](t, rec), 1)

	rec = do(t, s, http.MethodPut, "/api/variables/a/group", `{"groupId":"`+store.DefaultGroupID+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, store.DefaultGroupID, decode[store.Variable](t, rec).GroupID)

	rec = do(t, s, http.MethodDelete, "/api/groups/"+g.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/groups", "")
	groups := decode[[]store.Group](t, rec)
	require.Len(t, groups, 1)
	assert.Equal(t, store.DefaultGroupID, groups[0].ID)
}

func TestHistoryLimitFollowsSettings(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	settings := s.tokens.Settings(ctx)
	settings.HistoryLimit = 2
	_, err := s.tokens.UpdateSettings(ctx, settings)
	require.NoError(t, err)

	for _, v := range []string{"1", "2", "3"} {
		rec := do(t, s, http.MethodPost, "/api/variables", `{"name":"v`+v+`","value":"`+v+`"}`)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	entries := s.vars.History(ctx)
	require.Len(t, entries, 2)
	assert.Equal(t, "v3", entries[0].Name)
}

func TestNew_KeepsStoredDefaultToken(t *testing.T) {
	backend := store.NewMemoryBackend()
	ctx := context.Background()

	cfg := testConfig(t)
	s1, err := newWithBackend(ctx, cfg, backend, nil)
	require.NoError(t, err)
	require.NoError(t, s1.Shutdown(ctx))

	cfg.Auth.Token = "rotated"
	s2, err := newWithBackend(ctx, cfg, backend, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s2.Shutdown(ctx) })

	_, ok := s2.tokens.Validate(ctx, testToken)
	assert.True(t, ok)
	_, ok = s2.tokens.Validate(ctx, "rotated")
	assert.False(t, ok)

	tok, err := s2.tokens.Get(ctx, tokens.DefaultTokenName)
	require.NoError(t, err)
	assert.True(t, tok.IsDefault)
}
