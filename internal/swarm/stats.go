package swarm

// Stats 聚合了单个 swarm 的进度，常用于仪表盘或健康检查。
type Stats struct {
	ID           string `json:"id"`
	Total        int    `json:"total"`
	Pending      int    `json:"pending"`
	Claimed      int    `json:"claimed"`
	Done         int    `json:"done"`
	Reservations int    `json:"reservations"`
	Finished     bool   `json:"finished"`
	CreatedAt    int64  `json:"time_created"`
	LastActivity int64  `json:"last_activity,omitempty"`
}

// StatsOf 在持锁状态下统计 swarm 进度。
func StatsOf(s *Swarm) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		ID:        s.ID,
		Pending:   len(s.Pending),
		Claimed:   len(s.Claimed),
		Done:      len(s.Done),
		CreatedAt: s.CreatedAt,
	}
	for _, reservation := range s.Reservations {
		if reservation == nil {
			continue
		}
		stats.Reservations++
		if reservation.ReservedAt > stats.LastActivity {
			stats.LastActivity = reservation.ReservedAt
		}
	}
	for _, unit := range s.Claimed {
		if unit != nil && unit.ClaimedAt > stats.LastActivity {
			stats.LastActivity = unit.ClaimedAt
		}
	}
	for _, unit := range s.Done {
		if unit != nil && unit.CompletedAt > stats.LastActivity {
			stats.LastActivity = unit.CompletedAt
		}
	}
	stats.Total = stats.Pending + stats.Claimed + stats.Done
	stats.Finished = stats.Total > 0 && stats.Pending == 0 && stats.Claimed == 0
	return stats
}
