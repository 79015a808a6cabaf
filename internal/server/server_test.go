package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"valorant-rank-proxy/internal/api"
	"valorant-rank-proxy/internal/cache"
	"valorant-rank-proxy/internal/config"
	"valorant-rank-proxy/internal/domain"
	"valorant-rank-proxy/internal/repository"
	"valorant-rank-proxy/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type upstreamCall struct {
	method string
	args   []any
}

type fakeUpstream struct {
	mu      sync.Mutex
	calls   []upstreamCall
	payload json.RawMessage
	err     error
}

func (f *fakeUpstream) record(method string, args ...any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, upstreamCall{method: method, args: args})
	return f.payload, f.err
}

func (f *fakeUpstream) FetchAccount(ctx context.Context, name, tag string) (json.RawMessage, error) {
	return f.record("account", name, tag)
}

func (f *fakeUpstream) FetchRating(ctx context.Context, region, puuid string) (json.RawMessage, error) {
	return f.record("rating", region, puuid)
}

func (f *fakeUpstream) FetchRatingHistory(ctx context.Context, region, puuid string, page, size int) (json.RawMessage, error) {
	return f.record("rating-history", region, puuid, page, size)
}

func (f *fakeUpstream) FetchMatchHistory(ctx context.Context, region, puuid, mode string, page, size int) (json.RawMessage, error) {
	return f.record("match-history", region, puuid, mode, page, size)
}

func (f *fakeUpstream) GetRateLimitInfo() api.RateLimitInfo {
	return api.RateLimitInfo{Limit: 90, Remaining: 42}
}

type fakeRefresher struct {
	refs    []domain.AccountRef
	summary *domain.RunSummary
	err     error
}

func (f *fakeRefresher) RefreshAccounts(ctx context.Context, refs []domain.AccountRef) (*domain.RunSummary, error) {
	f.refs = refs
	if f.err != nil {
		return nil, f.err
	}
	if f.summary != nil {
		return f.summary, nil
	}
	return &domain.RunSummary{Trigger: service.TriggerManual, Total: len(refs)}, nil
}

func (f *fakeRefresher) State() domain.JobState {
	return domain.JobState{Pending: []string{}, TotalBatches: 2}
}

type fakeAccounts struct {
	accounts map[string]domain.Account
	next     *time.Time
	enrolled []domain.Account
	err      error
}

func (f *fakeAccounts) ListLeaderboard(ctx context.Context) ([]domain.Account, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := []domain.Account{}
	for _, a := range f.accounts {
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeAccounts) GetWithHistory(ctx context.Context, puuid string) (*domain.Account, error) {
	if f.err != nil {
		return nil, f.err
	}
	a, ok := f.accounts[puuid]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	return &a, nil
}

func (f *fakeAccounts) Enroll(ctx context.Context, acc domain.Account) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.enrolled = append(f.enrolled, acc)
	_, exists := f.accounts[acc.Puuid]
	return !exists, nil
}

func (f *fakeAccounts) NextUpdate(ctx context.Context) (*time.Time, error) {
	return f.next, f.err
}

type testEnv struct {
	handler   http.Handler
	upstream  *fakeUpstream
	refresher *fakeRefresher
	accounts  *fakeAccounts
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		upstream:  &fakeUpstream{},
		refresher: &fakeRefresher{},
		accounts:  &fakeAccounts{accounts: map[string]domain.Account{}},
	}
	cfg := &config.Config{CacheTTL: 600 * time.Second}
	srv := NewServer(cfg, env.upstream, cache.New(0, cfg.CacheTTL), env.refresher, env.accounts, zerolog.Nop())
	env.handler = srv.Routes()
	return env
}

func (e *testEnv) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestRoot(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hello, World!", rec.Body.String())
}

func TestRatingIsCached(t *testing.T) {
	env := newTestEnv(t)
	env.upstream.payload = json.RawMessage(`{"currenttier_patched":"Gold 2","ranking_in_tier":45}`)

	rec := env.do(http.MethodGet, "/api/mmr/eu/abc123", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"currenttier_patched":"Gold 2","ranking_in_tier":45}`, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	env.upstream.payload = json.RawMessage(`{"changed":true}`)
	rec = env.do(http.MethodGet, "/api/mmr/eu/abc123", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"currenttier_patched":"Gold 2","ranking_in_tier":45}`, rec.Body.String())

	require.Len(t, env.upstream.calls, 1)
	assert.Equal(t, upstreamCall{method: "rating", args: []any{"eu", "abc123"}}, env.upstream.calls[0])
}

func TestRatingMissingCurrentData(t *testing.T) {
	env := newTestEnv(t)
	env.upstream.err = &api.NotFoundError{Field: "current_data"}

	rec := env.do(http.MethodGet, "/api/mmr/eu/abc123", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"message":"current_data is missing in the response"}`, rec.Body.String())

	// failures are not cached
	env.upstream.err = nil
	env.upstream.payload = json.RawMessage(`{}`)
	rec = env.do(http.MethodGet, "/api/mmr/eu/abc123", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, env.upstream.calls, 2)
}

func TestUpstreamErrorDoesNotLeakDetail(t *testing.T) {
	env := newTestEnv(t)
	env.upstream.err = &api.UpstreamError{URL: "https://api.henrikdev.xyz/secret", StatusCode: 502, Err: errors.New("bad gateway")}

	for _, target := range []string{
		"/api/fetch-data/Name/TAG",
		"/api/mmr/eu/abc",
		"/api/rr-gains-losses/eu/abc",
		"/api/match-history/eu/abc",
	} {
		rec := env.do(http.MethodGet, target, "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code, target)
		assert.JSONEq(t, `{"error":"Internal Server Error"}`, rec.Body.String(), target)
	}
}

func TestAccountEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.upstream.payload = json.RawMessage(`{"puuid":"abc","name":"Some Name"}`)

	rec := env.do(http.MethodGet, "/api/fetch-data/Some%20Name/EU1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"puuid":"abc","name":"Some Name"}`, rec.Body.String())
	assert.Equal(t, []any{"Some Name", "EU1"}, env.upstream.calls[0].args)

	// account keys ignore case
	env.do(http.MethodGet, "/api/fetch-data/some%20name/eu1", "")
	assert.Len(t, env.upstream.calls, 1)

	env.upstream.err = &api.NotFoundError{Field: "data"}
	rec = env.do(http.MethodGet, "/api/fetch-data/Other/EU1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"message":"data is missing in the response"}`, rec.Body.String())
}

func TestHistoryEndpointsPaging(t *testing.T) {
	env := newTestEnv(t)
	env.upstream.payload = json.RawMessage(`[]`)

	env.do(http.MethodGet, "/api/rr-gains-losses/eu/abc", "")
	env.do(http.MethodGet, "/api/rr-gains-losses/eu/abc?page=2&size=10", "")
	env.do(http.MethodGet, "/api/match-history/eu/abc", "")

	require.Len(t, env.upstream.calls, 3)
	assert.Equal(t, upstreamCall{method: "rating-history", args: []any{"eu", "abc", 1, 5}}, env.upstream.calls[0])
	assert.Equal(t, upstreamCall{method: "rating-history", args: []any{"eu", "abc", 2, 10}}, env.upstream.calls[1])
	assert.Equal(t, upstreamCall{method: "match-history", args: []any{"eu", "abc", "competitive", 1, 5}}, env.upstream.calls[2])

	for _, q := range []string{"page=0", "page=x", "size=0", "size=500"} {
		rec := env.do(http.MethodGet, "/api/rr-gains-losses/eu/abc?"+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
	assert.Len(t, env.upstream.calls, 3)
}

func TestUpdateAccountsInvalidBody(t *testing.T) {
	env := newTestEnv(t)

	for _, body := range []string{
		`{"accounts":"eu/abc"}`,
		`{"accounts":{"region":"eu"}}`,
		`{"accounts":null}`,
		`{}`,
		`not json`,
		`{"accounts":[{"region":"eu"}]}`,
		`{"accounts":[{"region":" ","puuid":"abc"}]}`,
	} {
		rec := env.do(http.MethodPost, "/api/update-accounts", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.JSONEq(t, `{"error":"Invalid request body"}`, rec.Body.String(), body)
	}
	assert.Nil(t, env.refresher.refs)
}

func TestUpdateAccounts(t *testing.T) {
	env := newTestEnv(t)
	env.refresher.summary = &domain.RunSummary{Trigger: service.TriggerManual, Total: 2, Updated: 1, Unchanged: 1, Batches: 1}

	rec := env.do(http.MethodPost, "/api/update-accounts", `{"accounts":[{"region":"eu","puuid":"a"},{"region":"na","puuid":"b"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Message string            `json:"message"`
		Summary domain.RunSummary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Accounts updated successfully", body.Message)
	assert.Equal(t, 1, body.Summary.Updated)
	assert.Equal(t, []domain.AccountRef{{Region: "eu", Puuid: "a"}, {Region: "na", Puuid: "b"}}, env.refresher.refs)
}

func TestUpdateAccountsFailures(t *testing.T) {
	env := newTestEnv(t)

	env.refresher.err = service.ErrRefreshInProgress
	rec := env.do(http.MethodPost, "/api/update-accounts", `{"accounts":[]}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	env.refresher.err = errors.New("database is locked")
	rec = env.do(http.MethodPost, "/api/update-accounts", `{"accounts":[]}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Internal Server Error"}`, rec.Body.String())
}

func TestLeaderboardEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.accounts.accounts["p1"] = domain.Account{Puuid: "p1", Region: "eu", Name: "Alpha", Leaderboard: true,
		History: []domain.ChangeLogEntry{{ID: "c1", NewRank: "Gold 1"}}}

	rec := env.do(http.MethodGet, "/api/leaderboard", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"puuid":"p1"`)

	rec = env.do(http.MethodPost, "/api/leaderboard", `{"region":"eu","puuid":"p2","name":"Beta","tag":"EU"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	rec = env.do(http.MethodPost, "/api/leaderboard", `{"region":"eu","puuid":"p1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(http.MethodPost, "/api/leaderboard", `{"puuid":"p3"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, env.accounts.enrolled, 2)

	rec = env.do(http.MethodGet, "/api/accounts/p1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"newRank":"Gold 1"`)

	rec = env.do(http.MethodGet, "/api/accounts/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	env.accounts.err = errors.New("boom")
	rec = env.do(http.MethodGet, "/api/leaderboard", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestNextUpdateAndStatus(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/next-update", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"nextUpdate":null}`, rec.Body.String())

	next := time.Date(2026, 10, 18, 15, 0, 0, 0, time.UTC)
	env.accounts.next = &next
	rec = env.do(http.MethodGet, "/api/next-update", "")
	assert.JSONEq(t, `{"nextUpdate":"2026-10-18T15:00:00Z"}`, rec.Body.String())

	rec = env.do(http.MethodGet, "/api/update-status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"totalBatches":2`)

	rec = env.do(http.MethodGet, "/api/rate-limit", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"remaining":42`)
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/update-accounts", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
