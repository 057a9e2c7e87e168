package store

import (
	"context"
	"os"

	"github.com/rcliao/chronolock/internal/model"
)

// Stats holds database statistics.
type Stats struct {
	DBPath          string       `json:"db_path"`
	DBSizeBytes     int64        `json:"db_size_bytes"`
	RealMemories    int          `json:"real_memories"`
	SimulatedMemory int          `json:"simulated_memories"`
	Owners          []OwnerStats `json:"owners"`
}

// OwnerStats holds per-owner counts.
type OwnerStats struct {
	Owner     string `json:"owner"`
	Real      int    `json:"real"`
	Simulated int    `json:"simulated"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{DBPath: s.path}

	if info, err := os.Stat(s.path); err == nil {
		st.DBSizeBytes = info.Size()
	}

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE mode = ?`, string(model.ModeReal)).Scan(&st.RealMemories)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE mode = ?`, string(model.ModeSimulated)).Scan(&st.SimulatedMemory)

	rows, err := s.db.QueryContext(ctx, `
		SELECT owner,
		       SUM(CASE WHEN mode = ? THEN 1 ELSE 0 END) AS real_count,
		       SUM(CASE WHEN mode = ? THEN 1 ELSE 0 END) AS sim_count
		FROM memories GROUP BY owner ORDER BY COUNT(*) DESC, owner`,
		string(model.ModeReal), string(model.ModeSimulated))
	if err != nil {
		return st, err
	}
	defer rows.Close()

	for rows.Next() {
		var o OwnerStats
		rows.Scan(&o.Owner, &o.Real, &o.Simulated)
		st.Owners = append(st.Owners, o)
	}

	return st, nil
}
