package simulation

import (
	"sort"
	"strings"
	"sync"

	"papertrade-core/pkg/config"
	"papertrade-core/pkg/trading"
)

// FeeModel prices fills from a fee schedule and tracks cumulative filled
// notional per (user, exchange) for volume-tier discounts.
type FeeModel struct {
	sched config.FeeSchedule

	mu     sync.Mutex
	volume map[string]float64
}

// NewFeeModel sorts the schedule's tiers by MinVolume.
func NewFeeModel(sched config.FeeSchedule) *FeeModel {
	tiers := append([]config.FeeTier(nil), sched.Tiers...)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MinVolume < tiers[j].MinVolume })
	sched.Tiers = tiers
	return &FeeModel{sched: sched, volume: make(map[string]float64)}
}

func volumeKey(userID, exchange string) string {
	return userID + "|" + strings.ToLower(exchange)
}

// BaseRate returns the undiscounted percent for the exchange and role.
func (f *FeeModel) BaseRate(exchange string, role trading.FeeRole) float64 {
	fees, ok := f.sched.Exchanges[strings.ToLower(exchange)]
	if !ok {
		fees = f.sched.Default
	}
	if role == trading.RoleMaker {
		return fees.MakerPercent
	}
	return fees.TakerPercent
}

// Discount returns the tier discount reached by the user's volume.
func (f *FeeModel) Discount(userID, exchange string) float64 {
	f.mu.Lock()
	vol := f.volume[volumeKey(userID, exchange)]
	f.mu.Unlock()

	var d float64
	for _, t := range f.sched.Tiers {
		if vol >= t.MinVolume {
			d = t.Discount
		}
	}
	return d
}

// Rate returns the effective fee percent.
func (f *FeeModel) Rate(userID, exchange string, role trading.FeeRole) float64 {
	return f.BaseRate(exchange, role) * (1 - f.Discount(userID, exchange))
}

// RecordVolume adds filled notional to the user's running total.
func (f *FeeModel) RecordVolume(userID, exchange string, notional float64) {
	if notional <= 0 {
		return
	}
	f.mu.Lock()
	f.volume[volumeKey(userID, exchange)] += notional
	f.mu.Unlock()
}

// Volume returns cumulative filled notional.
func (f *FeeModel) Volume(userID, exchange string) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.volume[volumeKey(userID, exchange)]
}

// ResetUser drops every volume counter of userID.
func (f *FeeModel) ResetUser(userID string) {
	prefix := userID + "|"
	f.mu.Lock()
	defer f.mu.Unlock()
	for k := range f.volume {
		if strings.HasPrefix(k, prefix) {
			delete(f.volume, k)
		}
	}
}

func roleFor(t trading.OrderType) trading.FeeRole {
	if t == trading.OrderTypeLimit || t == trading.OrderTypeStopLimit {
		return trading.RoleMaker
	}
	return trading.RoleTaker
}
