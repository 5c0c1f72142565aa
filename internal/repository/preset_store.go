package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"SignalDesk/internal/domain/models"
	domrepo "SignalDesk/internal/domain/repository"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const presetSchema = `
CREATE TABLE IF NOT EXISTS presets (
	name           TEXT PRIMARY KEY,
	method         TEXT NOT NULL,
	vote_threshold REAL NOT NULL,
	members        TEXT NOT NULL,
	saved_at       INTEGER NOT NULL
)`

type presetRow struct {
	Name          string  `db:"name"`
	Method        string  `db:"method"`
	VoteThreshold float64 `db:"vote_threshold"`
	Members       string  `db:"members"`
	SavedAt       int64   `db:"saved_at"`
}

func (r presetRow) toModel() (models.Preset, error) {
	p := models.Preset{
		Name:          r.Name,
		Method:        models.VotingMethod(r.Method),
		VoteThreshold: r.VoteThreshold,
		SavedAt:       time.Unix(0, r.SavedAt).UTC(),
	}
	if err := json.Unmarshal([]byte(r.Members), &p.Members); err != nil {
		return models.Preset{}, fmt.Errorf("decode members of %s: %w", r.Name, err)
	}
	return p, nil
}

// SQLitePresetStore implements PresetStore on an embedded SQLite database.
type SQLitePresetStore struct {
	db *sqlx.DB
}

var _ domrepo.PresetStore = (*SQLitePresetStore)(nil)

// NewSQLitePresetStore opens (and creates if needed) the database at path.
// ":memory:" gives a private in-memory store.
func NewSQLitePresetStore(ctx context.Context, path string) (*SQLitePresetStore, error) {
	if path == "" {
		return nil, errors.New("preset store path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create preset directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// single writer; also keeps ":memory:" on one connection
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.ExecContext(ctx, presetSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init preset schema: %w", err)
	}
	return &SQLitePresetStore{db: db}, nil
}

func (s *SQLitePresetStore) SavePreset(ctx context.Context, p models.Preset) error {
	members, err := json.Marshal(p.Members)
	if err != nil {
		return fmt.Errorf("encode members: %w", err)
	}
	savedAt := p.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now().UTC()
	}
	const q = `
	INSERT INTO presets (name, method, vote_threshold, members, saved_at)
	VALUES (:name, :method, :vote_threshold, :members, :saved_at)
	ON CONFLICT(name) DO UPDATE SET
		method = excluded.method,
		vote_threshold = excluded.vote_threshold,
		members = excluded.members,
		saved_at = excluded.saved_at`
	row := presetRow{
		Name:          p.Name,
		Method:        string(p.Method),
		VoteThreshold: p.VoteThreshold,
		Members:       string(members),
		SavedAt:       savedAt.UnixNano(),
	}
	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("save preset %s: %w", p.Name, err)
	}
	return nil
}

func (s *SQLitePresetStore) GetPreset(ctx context.Context, name string) (models.Preset, error) {
	var row presetRow
	err := s.db.GetContext(ctx, &row, `SELECT name, method, vote_threshold, members, saved_at FROM presets WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Preset{}, fmt.Errorf("preset %s: %w", name, domrepo.ErrNotFound)
	}
	if err != nil {
		return models.Preset{}, fmt.Errorf("get preset %s: %w", name, err)
	}
	return row.toModel()
}

// ListPresets returns presets ordered by name.
func (s *SQLitePresetStore) ListPresets(ctx context.Context) ([]models.Preset, error) {
	var rows []presetRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT name, method, vote_threshold, members, saved_at FROM presets ORDER BY name ASC`); err != nil {
		return nil, fmt.Errorf("list presets: %w", err)
	}
	out := make([]models.Preset, 0, len(rows))
	for _, r := range rows {
		p, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *SQLitePresetStore) DeletePreset(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM presets WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete preset %s: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("preset %s: %w", name, domrepo.ErrNotFound)
	}
	return nil
}

func (s *SQLitePresetStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
