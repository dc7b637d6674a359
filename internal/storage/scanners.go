package storage

import (
	"database/sql"

	"github.com/ernie/fortcore/internal/domain"
	"github.com/google/uuid"
)

// scanner abstracts sql.Row and sql.Rows for shared scan helpers
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPlayer(row scanner) (domain.Player, error) {
	var p domain.Player
	var raw string
	if err := row.Scan(&raw, &p.Name, &p.FirstSeen, &p.LastSeen, &p.MatchesPlayed); err != nil {
		return domain.Player{}, err
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return domain.Player{}, err
	}
	p.UUID = id
	return p, nil
}

func scanMatches(rows *sql.Rows) ([]domain.MatchRecord, error) {
	var matches []domain.MatchRecord
	for rows.Next() {
		var m domain.MatchRecord
		var raw string
		var endedAt sql.NullTime
		err := rows.Scan(&m.ID, &raw, &m.PlayerName, &m.MapName, &m.KitName,
			&m.StartedAt, &endedAt, &m.EndReason, &m.ActionsRecorded, &m.ActionsReverted)
		if err != nil {
			return nil, err
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, err
		}
		m.PlayerUUID = id
		if endedAt.Valid {
			m.EndedAt = &endedAt.Time
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}
