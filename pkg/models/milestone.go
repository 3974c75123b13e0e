package models

import (
	"time"
)

// Milestone представляет порог накопленных рефералов и сумму бонуса за него
type Milestone struct {
	Threshold int     `json:"threshold"`
	Bonus     float64 `json:"bonus"`
}

// Milestones определяет упорядоченную таблицу порогов реферальной программы.
// Бонус начисляется отдельной записью леджера kind = milestone-bonus
// сразу в статусе cleared: бонус выдается магазином, а не покупателем,
// поэтому период удержания к нему не применяется.
var Milestones = []Milestone{
	{Threshold: 5, Bonus: 10.0},
	{Threshold: 10, Bonus: 25.0},
	{Threshold: 25, Bonus: 75.0},
}

// MilestoneReward представляет уже выданный бонус за порог
type MilestoneReward struct {
	OwnerID   int64     `json:"owner_id" db:"owner_id"`
	Threshold int       `json:"threshold" db:"threshold"`
	GrantedAt time.Time `json:"granted_at" db:"granted_at"`
}

// MilestoneProgress представляет прогресс владельца по реферальным порогам.
// Производные данные: всегда пересчитываются из леджера.
type MilestoneProgress struct {
	OwnerID        int64 `json:"owner_id"`
	CompletedCount int   `json:"completed_count"`
	RewardsGranted []int `json:"rewards_granted"`
}

// NextThreshold возвращает ближайший еще не выданный порог (0, если все выданы)
func (p *MilestoneProgress) NextThreshold() int {
	granted := make(map[int]bool, len(p.RewardsGranted))
	for _, t := range p.RewardsGranted {
		granted[t] = true
	}
	for _, m := range Milestones {
		if !granted[m.Threshold] {
			return m.Threshold
		}
	}
	return 0
}
