package model

import "time"

// RankingEntry is one persisted ranking document, keyed by
// {periodType}_{periodKey}_{userId}. A recompute fully overwrites it.
type RankingEntry struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Distance    float64   `json:"distance"`
	Period      string    `json:"period"`
	PeriodKey   string    `json:"periodKey"`
	Rank        int       `json:"rank"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// RankingMeta is the per-period summary document. It is written on every
// recompute, including zero-participant windows, so that consumers never
// observe a missing document.
type RankingMeta struct {
	Period            string    `json:"period"`
	PeriodKey         string    `json:"periodKey"`
	TotalParticipants int       `json:"totalParticipants"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// LeaderboardResponse is the read API shape for one period's leaderboard.
type LeaderboardResponse struct {
	Period            string         `json:"period"`
	PeriodKey         string         `json:"periodKey"`
	TotalParticipants int            `json:"totalParticipants"`
	UpdatedAt         time.Time      `json:"updatedAt"`
	Leaderboard       []RankingEntry `json:"leaderboard"`
}
