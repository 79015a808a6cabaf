package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"
	"valorant-rank-proxy/internal/config"
	"valorant-rank-proxy/internal/domain"

	"github.com/valyala/fasthttp"
)

var ErrNotFound = errors.New("not found")

// NotFoundError reports an upstream envelope without the expected field.
type NotFoundError struct {
	Field string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s is missing in the response", e.Field)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// UpstreamError covers transport failures, non-2xx statuses and undecodable bodies.
type UpstreamError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream %s: %v", e.URL, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

type HDevClient struct {
	apiKey      string
	baseURL     string
	client      *fasthttp.Client
	rateLimitMu sync.RWMutex
	rateLimit   RateLimitInfo
}

type RateLimitInfo struct {
	Bucket    string `json:"bucket"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`

	// seconds until reset
	Reset int `json:"reset"`

	UpdatedAt time.Time `json:"updated_at"`
}

func NewHDevClient(cfg *config.Config) *HDevClient {
	return &HDevClient{
		apiKey:  cfg.HDevAPIKey,
		baseURL: cfg.HDevBaseURL,
		client: &fasthttp.Client{
			MaxConnsPerHost:     100,
			ReadTimeout:         10 * time.Second,
			WriteTimeout:        10 * time.Second,
			MaxIdleConnDuration: 1 * time.Minute,
		},
		rateLimit: RateLimitInfo{
			Limit:     90,
			Remaining: 90,
			Reset:     60,
			UpdatedAt: time.Now(),
		},
	}
}

func (c *HDevClient) GetRateLimitInfo() RateLimitInfo {
	c.rateLimitMu.RLock()
	defer c.rateLimitMu.RUnlock()
	return c.rateLimit
}

func (c *HDevClient) updateRateLimit(resp *fasthttp.Response) {
	c.rateLimitMu.Lock()
	defer c.rateLimitMu.Unlock()

	if bucket := string(resp.Header.Peek("X-Ratelimit-Bucket")); bucket != "" {
		c.rateLimit.Bucket = bucket
	}
	if limit := string(resp.Header.Peek("X-Ratelimit-Limit")); limit != "" {
		if val, err := strconv.Atoi(limit); err == nil {
			c.rateLimit.Limit = val
		}
	}
	if remaining := string(resp.Header.Peek("X-Ratelimit-Remaining")); remaining != "" {
		if val, err := strconv.Atoi(remaining); err == nil {
			c.rateLimit.Remaining = val
		}
	}
	if reset := string(resp.Header.Peek("X-Ratelimit-Reset")); reset != "" {
		if val, err := strconv.Atoi(reset); err == nil {
			c.rateLimit.Reset = val
		}
	}
	c.rateLimit.UpdatedAt = time.Now()
}

// FetchAccount returns the data field of the account envelope.
func (c *HDevClient) FetchAccount(ctx context.Context, name, tag string) (json.RawMessage, error) {
	u := fmt.Sprintf("%s/valorant/v2/account/%s/%s", c.baseURL, url.PathEscape(name), url.PathEscape(tag))
	return c.fetchData(ctx, u)
}

// FetchRating returns data.current_data of the rating envelope.
func (c *HDevClient) FetchRating(ctx context.Context, region, puuid string) (json.RawMessage, error) {
	env, err := c.fetchRatingEnvelope(ctx, region, puuid)
	if err != nil {
		return nil, err
	}
	return env.Data.CurrentData, nil
}

// FetchRatingInfo decodes the rating envelope into the fields the refresher compares.
func (c *HDevClient) FetchRatingInfo(ctx context.Context, region, puuid string) (*domain.Rating, error) {
	env, err := c.fetchRatingEnvelope(ctx, region, puuid)
	if err != nil {
		return nil, err
	}

	var current ratingCurrent
	if err := json.Unmarshal(env.Data.CurrentData, &current); err != nil {
		return nil, &UpstreamError{URL: ratingPath(region, puuid), Err: fmt.Errorf("decode current_data: %w", err)}
	}

	rank := current.CurrentTierPatched
	if rank == "" {
		rank = current.CurrentTierPatchedAlt
	}
	return &domain.Rating{
		Name:          env.Data.Name,
		Tag:           env.Data.Tag,
		Tier:          current.CurrentTier,
		Rank:          rank,
		RankingInTier: current.RankingInTier,
	}, nil
}

func (c *HDevClient) FetchRatingHistory(ctx context.Context, region, puuid string, page, size int) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))
	u := fmt.Sprintf("%s/valorant/v1/by-puuid/lifetime/mmr-history/%s/%s?%s",
		c.baseURL, url.PathEscape(region), url.PathEscape(puuid), q.Encode())
	return c.fetchData(ctx, u)
}

func (c *HDevClient) FetchMatchHistory(ctx context.Context, region, puuid, mode string, page, size int) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("mode", mode)
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))
	u := fmt.Sprintf("%s/valorant/v1/by-puuid/lifetime/matches/%s/%s?%s",
		c.baseURL, url.PathEscape(region), url.PathEscape(puuid), q.Encode())
	return c.fetchData(ctx, u)
}

func ratingPath(region, puuid string) string {
	return fmt.Sprintf("/valorant/v2/by-puuid/mmr/%s/%s", url.PathEscape(region), url.PathEscape(puuid))
}

func (c *HDevClient) fetchRatingEnvelope(ctx context.Context, region, puuid string) (*ratingEnvelope, error) {
	env, err := doRequest[ratingEnvelope](ctx, c, c.baseURL+ratingPath(region, puuid))
	if err != nil {
		return nil, err
	}
	if env.Data == nil {
		return nil, &NotFoundError{Field: "data"}
	}
	if isEmptyJSON(env.Data.CurrentData) {
		return nil, &NotFoundError{Field: "current_data"}
	}
	return env, nil
}

func (c *HDevClient) fetchData(ctx context.Context, u string) (json.RawMessage, error) {
	env, err := doRequest[dataEnvelope](ctx, c, u)
	if err != nil {
		return nil, err
	}
	if isEmptyJSON(env.Data) {
		return nil, &NotFoundError{Field: "data"}
	}
	return env.Data, nil
}

func isEmptyJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func doRequest[T any](ctx context.Context, client *HDevClient, endpoint string) (*T, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(endpoint)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Authorization", client.apiKey)
	req.Header.Set("Accept", "application/json")

	if err := ctx.Err(); err != nil {
		return nil, &UpstreamError{URL: endpoint, Err: err}
	}

	deadline, ok := ctx.Deadline()
	if ok {
		if err := client.client.DoDeadline(req, resp, deadline); err != nil {
			return nil, &UpstreamError{URL: endpoint, Err: err}
		}
	} else {
		if err := client.client.Do(req, resp); err != nil {
			return nil, &UpstreamError{URL: endpoint, Err: err}
		}
	}

	client.updateRateLimit(resp)

	if code := resp.StatusCode(); code < 200 || code > 299 {
		return nil, &UpstreamError{URL: endpoint, StatusCode: code, Err: fmt.Errorf("API error: %s", bytes.TrimSpace(resp.Body()))}
	}

	var result T
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, &UpstreamError{URL: endpoint, StatusCode: resp.StatusCode(), Err: fmt.Errorf("decode response: %w", err)}
	}
	return &result, nil
}

type dataEnvelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type ratingEnvelope struct {
	Status int `json:"status"`
	Data   *struct {
		Name        string          `json:"name"`
		Tag         string          `json:"tag"`
		Puuid       string          `json:"puuid"`
		CurrentData json.RawMessage `json:"current_data"`
	} `json:"data"`
}

type ratingCurrent struct {
	CurrentTier           int    `json:"currenttier"`
	CurrentTierPatched    string `json:"currenttierpatched"`
	CurrentTierPatchedAlt string `json:"currenttier_patched"`
	RankingInTier         int    `json:"ranking_in_tier"`
	MMRChangeToLastGame   int    `json:"mmr_change_to_last_game"`
	Elo                   int    `json:"elo"`
}
