// Package service реализует бизнес-логику сервиса выдачи наград.
package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/dkorolev/missionpass-system/internal/missions"
	"github.com/dkorolev/missionpass-system/internal/model"
	"github.com/dkorolev/missionpass-system/internal/repository"
)

// ErrMissionsIncomplete возвращается, если пользователь выполнил не все требуемые миссии.
var (
	ErrMissionsIncomplete = errors.New("required missions not completed")
	// ErrInvalidPin возвращается при неверном секрете выдачи. Состояние награды
	// при этом не меняется, сотрудник может повторить ввод.
	ErrInvalidPin = errors.New("invalid redeem pin")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	GetMissionSet(ctx context.Context, id uuid.UUID) (*model.MissionSet, error)
	GetRewardOption(ctx context.Context, optionID int64) (*model.RewardOption, error)
	ListRewardOptions(ctx context.Context, missionSetID uuid.UUID) ([]model.RewardOption, error)
	FindUserReward(ctx context.Context, userID int64, missionSetID uuid.UUID) (*model.UserReward, error)
	ClaimReward(ctx context.Context, userID int64, missionSetID uuid.UUID, optionID int64) (*model.UserReward, error)
	MarkRedeemed(ctx context.Context, userID int64, missionSetID uuid.UUID, at time.Time) (*model.UserReward, error)
	CancelReward(ctx context.Context, rewardID int64) (*model.UserReward, error)
}

// MissionTracker описывает контракт внешней системы учёта миссий.
type MissionTracker interface {
	GetProgress(ctx context.Context, missionSetID uuid.UUID, userID int64) (*missions.Progress, error)
}

// Service содержит бизнес-логику сервиса выдачи наград.
type Service struct {
	repo    Repository
	tracker MissionTracker
	now     func() time.Time
}

// NewService создаёт новый сервис с указанным репозиторием и клиентом системы миссий.
func NewService(repo Repository, tracker MissionTracker) *Service {
	return &Service{
		repo:    repo,
		tracker: tracker,
		now:     time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя.
func (s *Service) RegisterUser(ctx context.Context, login, password string) (int64, error) {
	hashed := hashPassword(login, password)
	id, err := s.repo.CreateUser(ctx, login, hashed)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return 0, repository.ErrUserExists
		}
		return 0, err
	}
	return id, nil
}

// AuthenticateUser проверяет логин и пароль пользователя и возвращает его идентификатор.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (int64, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		return 0, err
	}

	hashed := hashPassword(login, password)
	if hex.EncodeToString(hashed) != hex.EncodeToString(u.PasswordHash) {
		return 0, errors.New("invalid credentials")
	}

	return u.ID, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

// ListRewardOptions возвращает варианты наград набора миссий с остатками тиража.
func (s *Service) ListRewardOptions(ctx context.Context, missionSetID uuid.UUID) ([]model.RewardOption, error) {
	if _, err := s.repo.GetMissionSet(ctx, missionSetID); err != nil {
		return nil, err
	}
	return s.repo.ListRewardOptions(ctx, missionSetID)
}

// GetUserReward возвращает награду пользователя в наборе миссий.
func (s *Service) GetUserReward(ctx context.Context, userID int64, missionSetID uuid.UUID) (*model.UserReward, error) {
	return s.repo.FindUserReward(ctx, userID, missionSetID)
}

// ClaimReward выдаёт пользователю одну единицу выбранного варианта награды.
// Заявка принимается только после подтверждения выполнения миссий внешней
// системой; списание тиража и создание записи выполняются атомарно в репозитории.
func (s *Service) ClaimReward(ctx context.Context, userID int64, missionSetID uuid.UUID, optionID int64) (*model.UserReward, error) {
	ms, err := s.repo.GetMissionSet(ctx, missionSetID)
	if err != nil {
		return nil, err
	}

	completed, err := s.completedMissions(ctx, missionSetID, userID)
	if err != nil {
		return nil, err
	}
	if completed < ms.RequiredMissions {
		return nil, ErrMissionsIncomplete
	}

	// Предварительная проверка даёт понятный отказ без захвата блокировки.
	// От гонки двух заявок одного пользователя защищает уникальный индекс.
	_, err = s.repo.FindUserReward(ctx, userID, missionSetID)
	if err == nil {
		return nil, repository.ErrAlreadyClaimed
	}
	if !errors.Is(err, repository.ErrRewardNotFound) {
		return nil, err
	}

	return s.repo.ClaimReward(ctx, userID, missionSetID, optionID)
}

func (s *Service) completedMissions(ctx context.Context, missionSetID uuid.UUID, userID int64) (int, error) {
	if s.tracker == nil {
		return 0, errors.New("mission tracker not configured")
	}

	progress, err := s.tracker.GetProgress(ctx, missionSetID, userID)
	if err != nil {
		return 0, err
	}
	if progress == nil {
		return 0, nil
	}

	return progress.Completed, nil
}

// RedeemReward отмечает награду пользователя как выданную после проверки секрета.
// Неверный секрет не меняет состояние награды; повторная выдача возвращает
// repository.ErrAlreadyRedeemed вместе с исходным временем выдачи.
func (s *Service) RedeemReward(ctx context.Context, userID int64, missionSetID uuid.UUID, staffPin string) (*model.UserReward, error) {
	ms, err := s.repo.GetMissionSet(ctx, missionSetID)
	if err != nil {
		return nil, err
	}

	// Сравнение за постоянное время, чтобы не раскрывать секрет по времени ответа.
	if !hmac.Equal([]byte(staffPin), []byte(ms.RedeemSecret)) {
		return nil, ErrInvalidPin
	}

	return s.repo.MarkRedeemed(ctx, userID, missionSetID, s.now().UTC())
}

// CancelReward аннулирует невыданную награду и возвращает единицу тиража в пул.
// Операция административная и не доступна через публичный API.
func (s *Service) CancelReward(ctx context.Context, rewardID int64) (*model.UserReward, error) {
	return s.repo.CancelReward(ctx, rewardID)
}
