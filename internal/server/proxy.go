package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"valorant-rank-proxy/internal/api"
	"valorant-rank-proxy/internal/constants"
)

var errInvalidQuery = errors.New("invalid query parameters")

// proxyRoute describes one cached pass-through endpoint.
type proxyRoute struct {
	name     string
	key      func(r *http.Request) (string, error)
	fetch    func(ctx context.Context, r *http.Request) (json.RawMessage, error)
	notFound string
}

// proxy serves a route from the response cache, falling back to the upstream
// API and caching successful payloads.
func (s *Server) proxy(route proxyRoute) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := s.log(r).With().Str("endpoint", route.name).Logger()

		key, err := route.key(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid query parameters")
			return
		}

		if cached, ok := s.cache.Get(key); ok {
			logger.Debug().Str("cache_key", key).Msg("cache hit")
			writeRawJSON(w, http.StatusOK, cached)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), constants.ExternalAPITimeout)
		defer cancel()

		payload, err := route.fetch(ctx, r)
		switch {
		case errors.Is(err, api.ErrNotFound):
			logger.Info().Err(err).Str("cache_key", key).Msg("upstream payload missing expected field")
			writeMessage(w, http.StatusNotFound, route.notFound)
			return
		case err != nil:
			logger.Error().Err(err).Str("cache_key", key).Msg("upstream request failed")
			writeError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}

		s.cache.Set(key, payload, s.cacheTTL)
		logger.Debug().Str("cache_key", key).Msg("cache miss, stored upstream payload")
		writeRawJSON(w, http.StatusOK, payload)
	}
}

func accountRoute(up Upstream) proxyRoute {
	return proxyRoute{
		name: "account",
		key: func(r *http.Request) (string, error) {
			return fmt.Sprintf("account:%s#%s",
				strings.ToLower(r.PathValue("name")), strings.ToLower(r.PathValue("tagline"))), nil
		},
		fetch: func(ctx context.Context, r *http.Request) (json.RawMessage, error) {
			return up.FetchAccount(ctx, r.PathValue("name"), r.PathValue("tagline"))
		},
		notFound: "data is missing in the response",
	}
}

func ratingRoute(up Upstream) proxyRoute {
	return proxyRoute{
		name: "mmr",
		key: func(r *http.Request) (string, error) {
			return fmt.Sprintf("mmr:%s:%s", r.PathValue("region"), r.PathValue("puuid")), nil
		},
		fetch: func(ctx context.Context, r *http.Request) (json.RawMessage, error) {
			return up.FetchRating(ctx, r.PathValue("region"), r.PathValue("puuid"))
		},
		notFound: "current_data is missing in the response",
	}
}

func ratingHistoryRoute(up Upstream) proxyRoute {
	return proxyRoute{
		name: "rr-gains-losses",
		key: func(r *http.Request) (string, error) {
			page, size, err := pageParams(r)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("rr-history:%s:%s:%d:%d", r.PathValue("region"), r.PathValue("puuid"), page, size), nil
		},
		fetch: func(ctx context.Context, r *http.Request) (json.RawMessage, error) {
			page, size, err := pageParams(r)
			if err != nil {
				return nil, err
			}
			return up.FetchRatingHistory(ctx, r.PathValue("region"), r.PathValue("puuid"), page, size)
		},
		notFound: "data is missing in the response",
	}
}

func matchHistoryRoute(up Upstream) proxyRoute {
	return proxyRoute{
		name: "match-history",
		key: func(r *http.Request) (string, error) {
			page, size, err := pageParams(r)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("match-history:%s:%s:%s:%d:%d",
				r.PathValue("region"), r.PathValue("puuid"), constants.MatchHistoryMode, page, size), nil
		},
		fetch: func(ctx context.Context, r *http.Request) (json.RawMessage, error) {
			page, size, err := pageParams(r)
			if err != nil {
				return nil, err
			}
			return up.FetchMatchHistory(ctx, r.PathValue("region"), r.PathValue("puuid"), constants.MatchHistoryMode, page, size)
		},
		notFound: "data is missing in the response",
	}
}

func pageParams(r *http.Request) (page, size int, err error) {
	page, size = constants.DefaultHistoryPage, constants.DefaultHistorySize
	q := r.URL.Query()

	if v := q.Get("page"); v != "" {
		if page, err = strconv.Atoi(v); err != nil || page < 1 {
			return 0, 0, errInvalidQuery
		}
	}
	if v := q.Get("size"); v != "" {
		if size, err = strconv.Atoi(v); err != nil || size < 1 || size > constants.MaxHistorySize {
			return 0, 0, errInvalidQuery
		}
	}
	return page, size, nil
}
