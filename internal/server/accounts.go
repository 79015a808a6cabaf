package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"valorant-rank-proxy/internal/constants"
	"valorant-rank-proxy/internal/domain"
	"valorant-rank-proxy/internal/repository"
	"valorant-rank-proxy/internal/service"
)

const maxBodyBytes = 1 << 20

type updateAccountsRequest struct {
	Accounts json.RawMessage `json:"accounts"`
}

type enrollRequest struct {
	Region string `json:"region"`
	Puuid  string `json:"puuid"`
	Name   string `json:"name"`
	Tag    string `json:"tag"`
}

func decodeAccountRefs(r *http.Request, w http.ResponseWriter) ([]domain.AccountRef, bool) {
	var req updateAccountsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		return nil, false
	}

	var refs []domain.AccountRef
	if err := json.Unmarshal(req.Accounts, &refs); err != nil || refs == nil {
		return nil, false
	}
	for i := range refs {
		refs[i].Region = strings.TrimSpace(refs[i].Region)
		refs[i].Puuid = strings.TrimSpace(refs[i].Puuid)
		if refs[i].Region == "" || refs[i].Puuid == "" {
			return nil, false
		}
	}
	return refs, true
}

func (s *Server) handleUpdateAccounts(w http.ResponseWriter, r *http.Request) {
	logger := s.log(r)

	refs, ok := decodeAccountRefs(r, w)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	// keep going if the caller disconnects
	summary, err := s.refresher.RefreshAccounts(context.WithoutCancel(r.Context()), refs)
	switch {
	case errors.Is(err, service.ErrRefreshInProgress):
		writeError(w, http.StatusConflict, "Account update already in progress")
		return
	case err != nil:
		logger.Error().Err(err).Int("accounts", len(refs)).Msg("account update failed")
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Accounts updated successfully",
		"summary": summary,
	})
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.refresher.State())
}

func (s *Server) handleNextUpdate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), constants.DatabaseTimeout)
	defer cancel()

	next, err := s.accounts.NextUpdate(ctx)
	if err != nil {
		s.log(r).Error().Err(err).Msg("failed to read next update")
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"nextUpdate": next})
}

func (s *Server) handleListLeaderboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), constants.DatabaseTimeout)
	defer cancel()

	accounts, err := s.accounts.ListLeaderboard(ctx)
	if err != nil {
		s.log(r).Error().Err(err).Msg("failed to list leaderboard")
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Region = strings.TrimSpace(req.Region)
	req.Puuid = strings.TrimSpace(req.Puuid)
	if req.Region == "" || req.Puuid == "" {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), constants.DatabaseTimeout)
	defer cancel()

	created, err := s.accounts.Enroll(ctx, domain.Account{
		Puuid:  req.Puuid,
		Region: req.Region,
		Name:   strings.TrimSpace(req.Name),
		Tag:    strings.TrimSpace(req.Tag),
	})
	if err != nil {
		s.log(r).Error().Err(err).Str("puuid", req.Puuid).Msg("failed to enroll account")
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	if created {
		writeMessage(w, http.StatusCreated, "Account added to leaderboard")
		return
	}
	writeMessage(w, http.StatusOK, "Account is on the leaderboard")
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), constants.DatabaseTimeout)
	defer cancel()

	acc, err := s.accounts.GetWithHistory(ctx, r.PathValue("puuid"))
	switch {
	case errors.Is(err, repository.ErrAccountNotFound):
		writeMessage(w, http.StatusNotFound, "Account not found")
		return
	case err != nil:
		s.log(r).Error().Err(err).Msg("failed to load account")
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusOK, acc)
}
