/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package history archives finished games in a sqlite database.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/Seednode/npat/games"
)

const schema = `
CREATE TABLE IF NOT EXISTS games (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	room_id TEXT NOT NULL,
	rounds INTEGER NOT NULL,
	winner TEXT,
	played_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS game_scores (
	game_id INTEGER NOT NULL REFERENCES games(id),
	player_name TEXT NOT NULL,
	points INTEGER NOT NULL,
	rank INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS games_room_id ON games(room_id);
`

// Store records game results. It satisfies games.Recorder.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// PlayerStat aggregates a player's archived games in one room.
type PlayerStat struct {
	Name        string `json:"name"`
	TotalGames  int    `json:"totalGames"`
	TotalPoints int    `json:"totalPoints"`
	Wins        int    `json:"wins"`
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RecordGame stores the final standings of a game.
func (s *Store) RecordGame(ctx context.Context, roomID string, result games.GameResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var winner sql.NullString
	if result.Winner != nil {
		winner = sql.NullString{String: result.Winner.Name, Valid: true}
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO games (room_id, rounds, winner, played_at) VALUES (?, ?, ?, ?)`,
		roomID, len(result.Breakdown), winner, s.now().UTC())
	if err != nil {
		return fmt.Errorf("insert game: %w", err)
	}

	gameID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("game id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO game_scores (game_id, player_name, points, rank) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare scores: %w", err)
	}
	defer stmt.Close()

	for i, st := range result.Scores {
		if _, err := stmt.ExecContext(ctx, gameID, st.Name, st.Points, i+1); err != nil {
			return fmt.Errorf("insert score: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	log.Debug().Str("room", roomID).Int64("game", gameID).Msg("game archived")
	return nil
}

// RoomStats returns per-player totals for a room, best first.
func (s *Store) RoomStats(ctx context.Context, roomID string) ([]PlayerStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT gs.player_name,
		       COUNT(*),
		       SUM(gs.points),
		       SUM(CASE WHEN gs.rank = 1 THEN 1 ELSE 0 END)
		FROM game_scores gs
		JOIN games g ON g.id = gs.game_id
		WHERE g.room_id = ?
		GROUP BY gs.player_name
		ORDER BY SUM(gs.points) DESC, gs.player_name ASC`, roomID)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	stats := make([]PlayerStat, 0)
	for rows.Next() {
		var st PlayerStat
		if err := rows.Scan(&st.Name, &st.TotalGames, &st.TotalPoints, &st.Wins); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}
