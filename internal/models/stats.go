package models

import "time"

type RecentUser struct {
	UserID      int64
	Username    string
	JoinedAt    time.Time
	CompletedAt *time.Time
}

type AdminStats struct {
	TotalUsers       int
	CompletedAll     int
	JoinedToday      int
	WithWallet       int
	RecentCompleters []RecentUser
	RecentJoiners    []RecentUser
}

// CompletionRate returns the share of users that finished every task, in percent.
func (s *AdminStats) CompletionRate() float64 {
	if s.TotalUsers == 0 {
		return 0
	}
	return float64(s.CompletedAll) * 100 / float64(s.TotalUsers)
}
