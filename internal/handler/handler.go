// Package handler содержит HTTP-обработчики API сервиса выдачи наград.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dkorolev/missionpass-system/internal/middleware"
	"github.com/dkorolev/missionpass-system/internal/model"
	"github.com/dkorolev/missionpass-system/internal/repository"
	"github.com/dkorolev/missionpass-system/internal/service"
	"github.com/dkorolev/missionpass-system/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password string) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (int64, error)
	ListRewardOptions(ctx context.Context, missionSetID uuid.UUID) ([]model.RewardOption, error)
	GetUserReward(ctx context.Context, userID int64, missionSetID uuid.UUID) (*model.UserReward, error)
	ClaimReward(ctx context.Context, userID int64, missionSetID uuid.UUID, optionID int64) (*model.UserReward, error)
	RedeemReward(ctx context.Context, userID int64, missionSetID uuid.UUID, staffPin string) (*model.UserReward, error)
}

// Handler реализует HTTP-обработчики API сервиса выдачи наград.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type errorResponse struct {
	OK         bool   `json:"ok"`
	Error      string `json:"error"`
	RedeemedAt string `json:"redeemed_at,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{OK: false, Error: msg})
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) || err.Error() == "invalid credentials" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

func missionSetIDFromRequest(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "missionSetID"))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

type optionResponse struct {
	ID           int64  `json:"id"`
	MissionSetID string `json:"mission_set_id"`
	Name         string `json:"name"`
	Total        int    `json:"total"`
	Issued       int    `json:"issued"`
	Remaining    int    `json:"remaining"`
}

// ListOptions возвращает варианты наград набора миссий с остатками тиража.
func (h *Handler) ListOptions(w http.ResponseWriter, r *http.Request) {
	missionSetID, ok := missionSetIDFromRequest(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	options, err := h.service.ListRewardOptions(r.Context(), missionSetID)
	if err != nil {
		if errors.Is(err, repository.ErrMissionSetNotFound) {
			writeError(w, http.StatusNotFound, "mission set not found")
			return
		}
		h.logger.Error("list options error", zap.Error(err), zap.String("missionSetID", missionSetID.String()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]optionResponse, 0, len(options))
	for _, o := range options {
		resp = append(resp, optionResponse{
			ID:           o.ID,
			MissionSetID: o.MissionSetID.String(),
			Name:         o.Name,
			Total:        o.Total,
			Issued:       o.Issued,
			Remaining:    o.Remaining(),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type claimRequest struct {
	OptionID int64 `json:"option_id"`
}

type claimResponse struct {
	OK       bool   `json:"ok"`
	RewardID int64  `json:"reward_id"`
	Status   string `json:"status"`
	OptionID int64  `json:"option_id"`
}

// Claim выдаёт текущему пользователю одну единицу выбранного варианта награды.
func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	missionSetID, ok := missionSetIDFromRequest(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.OptionID <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	reward, err := h.service.ClaimReward(r.Context(), userID, missionSetID, req.OptionID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrMissionSetNotFound):
			writeError(w, http.StatusNotFound, "mission set not found")
		case errors.Is(err, service.ErrMissionsIncomplete):
			writeError(w, http.StatusForbidden, "required missions not completed")
		case errors.Is(err, repository.ErrAlreadyClaimed):
			writeError(w, http.StatusConflict, "reward already claimed")
		case errors.Is(err, repository.ErrOutOfStock):
			writeError(w, http.StatusConflict, "reward option out of stock")
		case errors.Is(err, repository.ErrOptionNotFound):
			writeError(w, http.StatusUnprocessableEntity, "invalid reward option")
		case errors.Is(err, repository.ErrLockTimeout):
			// Единственная ошибка, которую клиенту имеет смысл повторить.
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusServiceUnavailable, "try again later")
		default:
			h.logger.Error("claim error", zap.Error(err),
				zap.Int64("userID", userID), zap.Int64("optionID", req.OptionID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, claimResponse{
		OK:       true,
		RewardID: reward.ID,
		Status:   string(reward.Status),
		OptionID: reward.OptionID,
	})
}

type redeemRequest struct {
	StaffPin string `json:"staff_pin"`
}

type redeemResponse struct {
	OK         bool   `json:"ok"`
	Status     string `json:"status"`
	RedeemedAt string `json:"redeemed_at"`
}

// Redeem отмечает награду текущего пользователя как выданную после проверки секрета.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	missionSetID, ok := missionSetIDFromRequest(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidPin(req.StaffPin) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	reward, err := h.service.RedeemReward(r.Context(), userID, missionSetID, req.StaffPin)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrMissionSetNotFound):
			writeError(w, http.StatusNotFound, "mission set not found")
		case errors.Is(err, service.ErrInvalidPin):
			writeError(w, http.StatusForbidden, "invalid pin")
		case errors.Is(err, repository.ErrRewardNotFound):
			writeError(w, http.StatusNotFound, "reward not claimed")
		case errors.Is(err, repository.ErrAlreadyRedeemed):
			// Сотруднику показывается время первоначальной выдачи.
			resp := errorResponse{OK: false, Error: "reward already redeemed"}
			if reward != nil && reward.RedeemedAt != nil {
				resp.RedeemedAt = reward.RedeemedAt.Format(time.RFC3339)
			}
			writeJSON(w, http.StatusConflict, resp)
		case errors.Is(err, repository.ErrRewardCanceled):
			writeError(w, http.StatusGone, "reward canceled")
		default:
			h.logger.Error("redeem error", zap.Error(err),
				zap.Int64("userID", userID), zap.String("missionSetID", missionSetID.String()))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, redeemResponse{
		OK:         true,
		Status:     string(reward.Status),
		RedeemedAt: reward.RedeemedAt.Format(time.RFC3339),
	})
}

type rewardResponse struct {
	RewardID   int64  `json:"reward_id"`
	OptionID   int64  `json:"option_id"`
	OptionName string `json:"option_name"`
	Status     string `json:"status"`
	RedeemedAt string `json:"redeemed_at,omitempty"`
}

// GetReward возвращает награду текущего пользователя в наборе миссий.
func (h *Handler) GetReward(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	missionSetID, ok := missionSetIDFromRequest(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	reward, err := h.service.GetUserReward(r.Context(), userID, missionSetID)
	if err != nil {
		if errors.Is(err, repository.ErrRewardNotFound) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.logger.Error("get reward error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := rewardResponse{
		RewardID:   reward.ID,
		OptionID:   reward.OptionID,
		OptionName: reward.OptionName,
		Status:     string(reward.Status),
	}
	if reward.RedeemedAt != nil {
		resp.RedeemedAt = reward.RedeemedAt.Format(time.RFC3339)
	}

	writeJSON(w, http.StatusOK, resp)
}
