package repository

import (
	"context"
	"errors"
	"time"

	"github.com/foxseedlab/mixminus/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) repository.Repository {
	return &PostgresRepository{pool: pool}
}

const sessionColumns = `id, guild_id, channel_ids, started_at, ended_at, status, stop_reason, ticks, delivered, dropped, faults`

func scanSession(row pgx.Row) (*repository.BridgeSession, error) {
	var s repository.BridgeSession
	var endedAt *time.Time
	err := row.Scan(&s.ID, &s.GuildID, &s.ChannelIDs, &s.StartedAt, &endedAt, &s.Status, &s.StopReason, &s.Ticks, &s.Delivered, &s.Dropped, &s.Faults)
	if err != nil {
		return nil, err
	}
	s.EndedAt = endedAt
	return &s, nil
}

func (r *PostgresRepository) CreateSession(ctx context.Context, input repository.CreateSessionInput) (*repository.BridgeSession, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO bridge_sessions (guild_id, channel_ids, started_at, status)
		 VALUES ($1, $2, $3, 'running')
		 RETURNING `+sessionColumns,
		input.GuildID, input.ChannelIDs, input.StartedAt)
	return scanSession(row)
}

func (r *PostgresRepository) CompleteSession(ctx context.Context, input repository.CompleteSessionInput) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE bridge_sessions
		 SET status = 'completed', ended_at = $2, stop_reason = $3,
		     ticks = $4, delivered = $5, dropped = $6, faults = $7
		 WHERE id = $1`,
		input.SessionID, input.EndedAt, input.StopReason,
		input.Ticks, input.Delivered, input.Dropped, input.Faults)
	return err
}

func (r *PostgresRepository) GetRunningSessionByGuild(ctx context.Context, guildID string) (*repository.BridgeSession, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM bridge_sessions WHERE guild_id = $1 AND status = 'running'
		 ORDER BY started_at DESC LIMIT 1`,
		guildID)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

func (r *PostgresRepository) InsertFault(ctx context.Context, input repository.InsertFaultInput) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO participant_faults (session_id, channel_id, operation, cycle, message, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		input.SessionID, input.ChannelID, input.Operation, input.Cycle, input.Message, input.OccurredAt)
	return err
}

func (r *PostgresRepository) CountFaultsBySessionID(ctx context.Context, sessionID string) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM participant_faults WHERE session_id = $1`,
		sessionID).Scan(&n)
	return n, err
}

func (r *PostgresRepository) InsertSegment(ctx context.Context, input repository.InsertSegmentInput) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO transcript_segments (session_id, content, segment_index, spoken_at)
		 VALUES ($1, $2, $3, $4)`,
		input.SessionID, input.Content, input.SegmentIndex, input.SpokenAt)
	return err
}

func (r *PostgresRepository) ListSegmentsBySessionID(ctx context.Context, sessionID string) ([]repository.TranscriptSegment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, content, segment_index, spoken_at, created_at
		 FROM transcript_segments WHERE session_id = $1 ORDER BY segment_index ASC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []repository.TranscriptSegment
	for rows.Next() {
		var seg repository.TranscriptSegment
		if err := rows.Scan(&seg.ID, &seg.SessionID, &seg.Content, &seg.SegmentIndex, &seg.SpokenAt, &seg.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, seg)
	}
	return list, rows.Err()
}
