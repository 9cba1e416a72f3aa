package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dkorolev/missionpass-system/internal/missions"
	"github.com/dkorolev/missionpass-system/internal/model"
	"github.com/dkorolev/missionpass-system/internal/repository"
)

func TestHashPasswordDeterministic(t *testing.T) {
	a := hashPassword("user", "pass")
	b := hashPassword("user", "pass")
	c := hashPassword("user", "other")

	if string(a) != string(b) {
		t.Fatalf("hashPassword must be deterministic, got %x and %x", a, b)
	}
	if string(a) == string(c) {
		t.Fatalf("different passwords must produce different hashes")
	}
}

type stubRepo struct {
	createUserID  int64
	createUserErr error

	getUser    *model.User
	getUserErr error

	missionSet    *model.MissionSet
	missionSetErr error

	findReward    *model.UserReward
	findRewardErr error

	claimReward *model.UserReward
	claimErr    error

	markRedeemedReward *model.UserReward
	markRedeemedErr    error
	markRedeemedCalls  int
	markRedeemedAt     time.Time

	cancelReward *model.UserReward
	cancelErr    error
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error) {
	return s.createUserID, s.createUserErr
}

func (s *stubRepo) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	return s.getUser, s.getUserErr
}

func (s *stubRepo) GetMissionSet(ctx context.Context, id uuid.UUID) (*model.MissionSet, error) {
	return s.missionSet, s.missionSetErr
}

func (s *stubRepo) GetRewardOption(ctx context.Context, optionID int64) (*model.RewardOption, error) {
	return nil, repository.ErrOptionNotFound
}

func (s *stubRepo) ListRewardOptions(ctx context.Context, missionSetID uuid.UUID) ([]model.RewardOption, error) {
	return nil, nil
}

func (s *stubRepo) FindUserReward(ctx context.Context, userID int64, missionSetID uuid.UUID) (*model.UserReward, error) {
	return s.findReward, s.findRewardErr
}

func (s *stubRepo) ClaimReward(ctx context.Context, userID int64, missionSetID uuid.UUID, optionID int64) (*model.UserReward, error) {
	return s.claimReward, s.claimErr
}

func (s *stubRepo) MarkRedeemed(ctx context.Context, userID int64, missionSetID uuid.UUID, at time.Time) (*model.UserReward, error) {
	s.markRedeemedCalls++
	s.markRedeemedAt = at
	return s.markRedeemedReward, s.markRedeemedErr
}

func (s *stubRepo) CancelReward(ctx context.Context, rewardID int64) (*model.UserReward, error) {
	return s.cancelReward, s.cancelErr
}

type stubTracker struct {
	progress *missions.Progress
	err      error
}

func (s *stubTracker) GetProgress(ctx context.Context, missionSetID uuid.UUID, userID int64) (*missions.Progress, error) {
	return s.progress, s.err
}

func TestRegisterUser_PropagatesDuplicateError(t *testing.T) {
	repo := &stubRepo{
		createUserErr: repository.ErrUserExists,
	}
	svc := NewService(repo, nil)

	_, err := svc.RegisterUser(context.Background(), "login", "pass")
	if !errors.Is(err, repository.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestAuthenticateUser_InvalidCredentials(t *testing.T) {
	hashed := hashPassword("user", "correct")
	repo := &stubRepo{
		getUser: &model.User{
			ID:           1,
			Login:        "user",
			PasswordHash: hashed,
		},
	}

	svc := NewService(repo, nil)

	_, err := svc.AuthenticateUser(context.Background(), "user", "wrong")
	if err == nil {
		t.Fatalf("expected error for invalid credentials")
	}
}

func testMissionSet() *model.MissionSet {
	return &model.MissionSet{
		ID:               uuid.MustParse("6f1a2d3c-4b5e-4f60-8a71-9b82c3d4e5f6"),
		Name:             "city quest",
		RequiredMissions: 3,
		RedeemSecret:     "4321",
	}
}

func TestClaimReward_MissionsIncomplete(t *testing.T) {
	repo := &stubRepo{
		missionSet:    testMissionSet(),
		findRewardErr: repository.ErrRewardNotFound,
	}
	tracker := &stubTracker{
		progress: &missions.Progress{UserID: 1, Completed: 2},
	}
	svc := NewService(repo, tracker)

	_, err := svc.ClaimReward(context.Background(), 1, repo.missionSet.ID, 10)
	if !errors.Is(err, ErrMissionsIncomplete) {
		t.Fatalf("expected ErrMissionsIncomplete, got %v", err)
	}
}

func TestClaimReward_NoRecordedProgress(t *testing.T) {
	repo := &stubRepo{
		missionSet:    testMissionSet(),
		findRewardErr: repository.ErrRewardNotFound,
	}
	tracker := &stubTracker{}
	svc := NewService(repo, tracker)

	_, err := svc.ClaimReward(context.Background(), 1, repo.missionSet.ID, 10)
	if !errors.Is(err, ErrMissionsIncomplete) {
		t.Fatalf("expected ErrMissionsIncomplete for empty progress, got %v", err)
	}
}

func TestClaimReward_AlreadyClaimed(t *testing.T) {
	repo := &stubRepo{
		missionSet: testMissionSet(),
		findReward: &model.UserReward{ID: 5, Status: model.RewardStatusIssued},
	}
	tracker := &stubTracker{
		progress: &missions.Progress{UserID: 1, Completed: 3},
	}
	svc := NewService(repo, tracker)

	_, err := svc.ClaimReward(context.Background(), 1, repo.missionSet.ID, 10)
	if !errors.Is(err, repository.ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
}

func TestClaimReward_Success(t *testing.T) {
	want := &model.UserReward{
		ID:       7,
		UserID:   1,
		OptionID: 10,
		Status:   model.RewardStatusIssued,
	}
	repo := &stubRepo{
		missionSet:    testMissionSet(),
		findRewardErr: repository.ErrRewardNotFound,
		claimReward:   want,
	}
	tracker := &stubTracker{
		progress: &missions.Progress{UserID: 1, Completed: 3},
	}
	svc := NewService(repo, tracker)

	reward, err := svc.ClaimReward(context.Background(), 1, repo.missionSet.ID, 10)
	if err != nil {
		t.Fatalf("ClaimReward error: %v", err)
	}
	if reward.ID != want.ID || reward.Status != model.RewardStatusIssued {
		t.Fatalf("unexpected reward: %+v", reward)
	}
}

func TestClaimReward_TrackerNotConfigured(t *testing.T) {
	repo := &stubRepo{
		missionSet: testMissionSet(),
	}
	svc := NewService(repo, nil)

	_, err := svc.ClaimReward(context.Background(), 1, repo.missionSet.ID, 10)
	if err == nil {
		t.Fatalf("expected error without mission tracker")
	}
}

func TestRedeemReward_InvalidPinLeavesStateUntouched(t *testing.T) {
	repo := &stubRepo{
		missionSet: testMissionSet(),
	}
	svc := NewService(repo, nil)

	// Повторные неверные вводы не должны трогать запись о награде.
	for i := 0; i < 3; i++ {
		_, err := svc.RedeemReward(context.Background(), 1, repo.missionSet.ID, "0000")
		if !errors.Is(err, ErrInvalidPin) {
			t.Fatalf("attempt %d: expected ErrInvalidPin, got %v", i+1, err)
		}
	}

	if repo.markRedeemedCalls != 0 {
		t.Fatalf("MarkRedeemed called %d times, want 0", repo.markRedeemedCalls)
	}
}

func TestRedeemReward_Success(t *testing.T) {
	at := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	repo := &stubRepo{
		missionSet: testMissionSet(),
		markRedeemedReward: &model.UserReward{
			ID:         7,
			Status:     model.RewardStatusRedeemed,
			RedeemedAt: &at,
		},
	}
	svc := NewService(repo, nil)
	svc.now = func() time.Time { return at }

	reward, err := svc.RedeemReward(context.Background(), 1, repo.missionSet.ID, "4321")
	if err != nil {
		t.Fatalf("RedeemReward error: %v", err)
	}
	if reward.Status != model.RewardStatusRedeemed {
		t.Fatalf("status = %s, want REDEEMED", reward.Status)
	}
	if repo.markRedeemedCalls != 1 {
		t.Fatalf("MarkRedeemed called %d times, want 1", repo.markRedeemedCalls)
	}
	if !repo.markRedeemedAt.Equal(at) {
		t.Fatalf("redeemed at %v, want %v", repo.markRedeemedAt, at)
	}
}

func TestRedeemReward_AlreadyRedeemedKeepsOriginalTimestamp(t *testing.T) {
	original := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	repo := &stubRepo{
		missionSet: testMissionSet(),
		markRedeemedReward: &model.UserReward{
			ID:         7,
			Status:     model.RewardStatusRedeemed,
			RedeemedAt: &original,
		},
		markRedeemedErr: repository.ErrAlreadyRedeemed,
	}
	svc := NewService(repo, nil)

	reward, err := svc.RedeemReward(context.Background(), 1, repo.missionSet.ID, "4321")
	if !errors.Is(err, repository.ErrAlreadyRedeemed) {
		t.Fatalf("expected ErrAlreadyRedeemed, got %v", err)
	}
	if reward == nil || reward.RedeemedAt == nil || !reward.RedeemedAt.Equal(original) {
		t.Fatalf("expected original redeemed_at %v, got %+v", original, reward)
	}
}

func TestRedeemReward_MissionSetNotFound(t *testing.T) {
	repo := &stubRepo{
		missionSetErr: repository.ErrMissionSetNotFound,
	}
	svc := NewService(repo, nil)

	_, err := svc.RedeemReward(context.Background(), 1, uuid.New(), "4321")
	if !errors.Is(err, repository.ErrMissionSetNotFound) {
		t.Fatalf("expected ErrMissionSetNotFound, got %v", err)
	}
}
