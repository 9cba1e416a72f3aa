// Package model содержит доменные сущности сервиса выдачи наград.
package model

import (
	"time"

	"github.com/google/uuid"
)

// User представляет зарегистрированного участника акции.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	CreatedAt    time.Time
}

// MissionSet описывает набор миссий одного мероприятия: сколько миссий нужно
// выполнить для получения награды и секрет, который сотрудник вводит при выдаче.
type MissionSet struct {
	ID               uuid.UUID
	Name             string
	RequiredMissions int
	RedeemSecret     string
	CreatedAt        time.Time
}

// RewardOption описывает вариант награды с ограниченным тиражом.
// Remaining всегда вычисляется из Total и Issued и отдельно не хранится.
type RewardOption struct {
	ID           int64
	MissionSetID uuid.UUID
	Name         string
	Total        int
	Issued       int
}

// Remaining возвращает количество ещё не разобранных единиц награды.
func (o RewardOption) Remaining() int {
	return o.Total - o.Issued
}

// RewardStatus описывает состояние выданной награды.
type RewardStatus string

const (
	RewardStatusIssued   RewardStatus = "ISSUED"
	RewardStatusRedeemed RewardStatus = "REDEEMED"
	RewardStatusCanceled RewardStatus = "CANCELED"
)

// UserReward представляет запись о награде пользователя в рамках одного набора миссий.
// На пару (UserID, MissionSetID) существует не более одной записи.
type UserReward struct {
	ID           int64
	UserID       int64
	MissionSetID uuid.UUID
	OptionID     int64
	OptionName   string
	Status       RewardStatus
	RedeemedAt   *time.Time
	CreatedAt    time.Time
}
