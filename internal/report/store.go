package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ErrReportNotFound is returned by Store.Get for an unknown id.
var ErrReportNotFound = errors.New("report: not found")

// Triage priorities, matching the CHECK constraint on moderation_reports.
const (
	PriorityUntriaged = "untriaged"
	PriorityNormal    = "normal"
	PriorityHigh      = "high"
	PriorityUrgent    = "urgent"
)

// Store persists submitted reports in PostgreSQL.
type Store struct {
	db *sql.DB
}

// StoredReport is a row of moderation_reports.
type StoredReport struct {
	Submission
	Priority string
	Signals  []string
}

// NewStore creates a new report store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a submission and assigns it a fresh id. Details are stored
// as JSONB in the same shape as session snapshots.
func (s *Store) Create(ctx context.Context, sub *Submission) error {
	if sub.Reason == ReasonUnidentified {
		return fmt.Errorf("report: refusing to store unidentified reason")
	}

	var details sql.NullString
	if ds := snapshotDetails(sub.Details); ds != nil {
		raw, err := json.Marshal(ds)
		if err != nil {
			return fmt.Errorf("report: marshal details: %w", err)
		}
		details = sql.NullString{String: string(raw), Valid: true}
	}

	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO moderation_reports
			(id, reporter_id, guild_id, channel_id, message_id, item_author, item_content, reason, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	ref := sub.Item.Ref
	_, err := s.db.ExecContext(ctx, query,
		sub.ID,
		sub.ReporterID,
		strconv.FormatUint(ref.GuildID, 10),
		strconv.FormatUint(ref.ChannelID, 10),
		strconv.FormatUint(ref.MessageID, 10),
		sub.Item.Author,
		sub.Item.Content,
		sub.Reason.String(),
		details,
		sub.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("report: insert: %w", err)
	}
	return nil
}

// Get loads a stored report by id.
func (s *Store) Get(ctx context.Context, id string) (*StoredReport, error) {
	const query = `
		SELECT reporter_id, guild_id::text, channel_id::text, message_id::text,
		       item_author, item_content, reason, details, priority, signals, created_at
		FROM moderation_reports
		WHERE id = $1`

	var (
		r                   StoredReport
		guild, channel, msg string
		reason              string
		detailsJSON         []byte
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&r.ReporterID, &guild, &channel, &msg,
		&r.Item.Author, &r.Item.Content, &reason, &detailsJSON,
		&r.Priority, pq.Array(&r.Signals), &r.SubmittedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("report: get: %w", err)
	}

	r.ID = id
	if r.Item.Ref, err = parseRef(guild, channel, msg); err != nil {
		return nil, err
	}
	if r.Reason, err = ParseReason(reason); err != nil {
		return nil, err
	}
	if len(detailsJSON) > 0 {
		var ds DetailsSnapshot
		if err := json.Unmarshal(detailsJSON, &ds); err != nil {
			return nil, fmt.Errorf("report: unmarshal details: %w", err)
		}
		if r.Details, err = restoreDetails(&ds); err != nil {
			return nil, err
		}
	}
	return &r, nil
}

// SetTriage records the priority and the signals that produced it.
func (s *Store) SetTriage(ctx context.Context, id string, priority string, signals []string) error {
	const query = `
		UPDATE moderation_reports
		SET priority = $2, signals = $3, triaged_at = NOW()
		WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, id, priority, pq.Array(signals))
	if err != nil {
		return fmt.Errorf("report: set triage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("report: set triage: %w", err)
	}
	if n == 0 {
		return ErrReportNotFound
	}
	return nil
}

// CountRecentAgainst returns the number of reports filed against an author
// within the given window.
func (s *Store) CountRecentAgainst(ctx context.Context, author string, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM moderation_reports
		WHERE item_author = $1
		  AND created_at >= NOW() - make_interval(secs => $2)`

	var count int
	err := s.db.QueryRowContext(ctx, query, author, window.Seconds()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("report: count recent: %w", err)
	}
	return count, nil
}

func parseRef(guild, channel, msg string) (ItemRef, error) {
	var ids [3]uint64
	for i, v := range []string{guild, channel, msg} {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return ItemRef{}, fmt.Errorf("report: parse stored id %q: %w", v, err)
		}
		ids[i] = id
	}
	return ItemRef{GuildID: ids[0], ChannelID: ids[1], MessageID: ids[2]}, nil
}
