package entity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines entity persistence.
type Repository interface {
	// Get returns the record for key with its last state.
	// Returns ErrNotFound if no record exists.
	Get(ctx context.Context, key string) (*Record, error)

	// List returns every record ordered by key.
	List(ctx context.Context) ([]Record, error)

	// Upsert inserts a record or refreshes its descriptor fields and
	// last_seen_at. first_seen_at is kept from the original insert.
	Upsert(ctx context.Context, r Record) error

	// SaveState replaces the stored snapshot for key.
	SaveState(ctx context.Context, key string, s State) error

	// UpsertScene inserts or renames a scene.
	UpsertScene(ctx context.Context, s SceneRecord) error

	// ListScenes returns every scene ordered by ID.
	ListScenes(ctx context.Context) ([]SceneRecord, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectRecord = `
	SELECT e.entity_key, e.address, e.kind, e.name, e.display_name, e.location,
		e.tags, e.members, e.first_seen_at, e.last_seen_at,
		s.status, s.is_on, s.brightness, s.color_temp, s.updated_at
	FROM entities e
	LEFT JOIN entity_state s ON s.entity_key = e.entity_key`

// Get retrieves one record.
func (r *SQLiteRepository) Get(ctx context.Context, key string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, selectRecord+" WHERE e.entity_key = ?", key)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("querying entity %s: %w", key, err)
	}
	return rec, nil
}

// List retrieves every record.
func (r *SQLiteRepository) List(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, selectRecord+" ORDER BY e.entity_key")
	if err != nil {
		return nil, fmt.Errorf("querying entities: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning entity: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entities: %w", err)
	}
	return records, nil
}

// Upsert inserts or refreshes a record.
func (r *SQLiteRepository) Upsert(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	tags, err := json.Marshal(nonNil(rec.Tags))
	if err != nil {
		return fmt.Errorf("marshalling tags: %w", err)
	}
	members, err := json.Marshal(nonNil(rec.Members))
	if err != nil {
		return fmt.Errorf("marshalling members: %w", err)
	}

	seen := rec.LastSeenAt
	if seen.IsZero() {
		seen = time.Now()
	}
	first := rec.FirstSeenAt
	if first.IsZero() {
		first = seen
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO entities (
			entity_key, address, kind, name, display_name, location,
			tags, members, first_seen_at, last_seen_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_key) DO UPDATE SET
			address = excluded.address,
			kind = excluded.kind,
			name = excluded.name,
			display_name = excluded.display_name,
			location = excluded.location,
			tags = excluded.tags,
			members = excluded.members,
			last_seen_at = excluded.last_seen_at`,
		rec.Key, rec.Address, rec.Kind, rec.Name, rec.DisplayName, rec.Location,
		string(tags), string(members), formatTime(first), formatTime(seen),
	)
	if err != nil {
		return fmt.Errorf("upserting entity %s: %w", rec.Key, err)
	}
	return nil
}

// SaveState replaces the stored snapshot. The entity row must exist.
func (r *SQLiteRepository) SaveState(ctx context.Context, key string, s State) error {
	status := s.Status
	if len(status) == 0 {
		status = json.RawMessage("{}")
	}
	at := s.UpdatedAt
	if at.IsZero() {
		at = time.Now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO entity_state (entity_key, status, is_on, brightness, color_temp, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_key) DO UPDATE SET
			status = excluded.status,
			is_on = excluded.is_on,
			brightness = excluded.brightness,
			color_temp = excluded.color_temp,
			updated_at = excluded.updated_at`,
		key, string(status), nullableBool(s.IsOn), nullableInt(s.Brightness),
		nullableInt(s.ColorTempKelvin), formatTime(at),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("saving state for %s: %w", key, err)
	}
	return nil
}

// UpsertScene inserts or renames a scene.
func (r *SQLiteRepository) UpsertScene(ctx context.Context, s SceneRecord) error {
	seen := s.LastSeenAt
	if seen.IsZero() {
		seen = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO scenes (scene_id, name, last_seen_at) VALUES (?, ?, ?)
		ON CONFLICT(scene_id) DO UPDATE SET
			name = excluded.name,
			last_seen_at = excluded.last_seen_at`,
		s.ID, s.Name, formatTime(seen))
	if err != nil {
		return fmt.Errorf("upserting scene %d: %w", s.ID, err)
	}
	return nil
}

// ListScenes returns every scene.
func (r *SQLiteRepository) ListScenes(ctx context.Context) ([]SceneRecord, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT scene_id, name, last_seen_at FROM scenes ORDER BY scene_id")
	if err != nil {
		return nil, fmt.Errorf("querying scenes: %w", err)
	}
	defer rows.Close()

	var scenes []SceneRecord
	for rows.Next() {
		var s SceneRecord
		var seen string
		if err := rows.Scan(&s.ID, &s.Name, &seen); err != nil {
			return nil, fmt.Errorf("scanning scene: %w", err)
		}
		s.LastSeenAt = parseTime(seen)
		scenes = append(scenes, s)
	}
	return scenes, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec            Record
		tags, members  string
		first, last    string
		status         sql.NullString
		isOn           sql.NullInt64
		brightness     sql.NullInt64
		colorTemp      sql.NullInt64
		stateUpdatedAt sql.NullString
	)
	err := row.Scan(
		&rec.Key, &rec.Address, &rec.Kind, &rec.Name, &rec.DisplayName, &rec.Location,
		&tags, &members, &first, &last,
		&status, &isOn, &brightness, &colorTemp, &stateUpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(tags), &rec.Tags); err != nil {
		return nil, fmt.Errorf("unmarshalling tags: %w", err)
	}
	if err := json.Unmarshal([]byte(members), &rec.Members); err != nil {
		return nil, fmt.Errorf("unmarshalling members: %w", err)
	}
	if len(rec.Tags) == 0 {
		rec.Tags = nil
	}
	if len(rec.Members) == 0 {
		rec.Members = nil
	}
	rec.FirstSeenAt = parseTime(first)
	rec.LastSeenAt = parseTime(last)

	if status.Valid {
		s := &State{
			Status:    json.RawMessage(status.String),
			UpdatedAt: parseTime(stateUpdatedAt.String),
		}
		if isOn.Valid {
			on := isOn.Int64 != 0
			s.IsOn = &on
		}
		if brightness.Valid {
			b := int(brightness.Int64)
			s.Brightness = &b
		}
		if colorTemp.Valid {
			k := int(colorTemp.Int64)
			s.ColorTempKelvin = &k
		}
		rec.State = s
	}
	return &rec, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func nullableBool(b *bool) sql.NullInt64 {
	if b == nil {
		return sql.NullInt64{}
	}
	if *b {
		return sql.NullInt64{Int64: 1, Valid: true}
	}
	return sql.NullInt64{Valid: true}
}

func nullableInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// isForeignKeyError matches SQLite's "FOREIGN KEY constraint failed".
func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "foreign key constraint")
}
