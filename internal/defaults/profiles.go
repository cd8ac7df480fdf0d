package defaults

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/patleeman/taskfactory/internal/models"
	"github.com/patleeman/taskfactory/internal/taskerr"
)

const profileSchema = `
CREATE TABLE IF NOT EXISTS model_profiles (
    id                  TEXT PRIMARY KEY,
    name                TEXT NOT NULL,
    planning            TEXT NOT NULL,
    execution           TEXT NOT NULL,
    planning_fallbacks  TEXT NOT NULL DEFAULT '[]',
    execution_fallbacks TEXT NOT NULL DEFAULT '[]',
    created_at          TIMESTAMP NOT NULL,
    updated_at          TIMESTAMP NOT NULL
);
`

// Profile is a reusable named bundle of model configurations a UI can apply
// to task defaults.
type Profile struct {
	ID                 string
	Name               string
	Planning           models.ModelConfig
	Execution          models.ModelConfig
	PlanningFallbacks  []models.ModelConfig
	ExecutionFallbacks []models.ModelConfig
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Validate checks the profile's identity and model configs.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return taskerr.Validationf("profile requires an id")
	}
	if strings.TrimSpace(p.Name) == "" {
		return taskerr.Validationf("profile requires a name")
	}
	if err := p.Planning.Validate(); err != nil {
		return taskerr.Validationf("profile planning model: %v", err)
	}
	if err := p.Execution.Validate(); err != nil {
		return taskerr.Validationf("profile execution model: %v", err)
	}
	for i, cfg := range p.PlanningFallbacks {
		if err := cfg.Validate(); err != nil {
			return taskerr.Validationf("profile planning fallback %d: %v", i, err)
		}
	}
	for i, cfg := range p.ExecutionFallbacks {
		if err := cfg.Validate(); err != nil {
			return taskerr.Validationf("profile execution fallback %d: %v", i, err)
		}
	}
	return nil
}

// ProfileStore manages the SQLite database of model profiles.
type ProfileStore struct {
	db     *sql.DB
	dbPath string
	clock  func() time.Time
}

// NewProfileStore opens (creating if needed) the profile database at dbPath.
func NewProfileStore(dbPath string) (*ProfileStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// busy_timeout first so the remaining pragmas wait on locks.
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(profileSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &ProfileStore{db: db, dbPath: dbPath, clock: time.Now}, nil
}

// execWithRetry retries a statement with exponential backoff on
// "database is locked" errors.
func execWithRetry(db *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(stmt)
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

// SetClock overrides the store's clock; used in tests.
func (s *ProfileStore) SetClock(clock func() time.Time) { s.clock = clock }

// Close closes the database connection.
func (s *ProfileStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Create inserts a new profile. A duplicate id is rejected.
func (s *ProfileStore) Create(ctx context.Context, profile Profile) (Profile, error) {
	if err := profile.Validate(); err != nil {
		return Profile{}, err
	}

	now := s.clock().UTC()
	profile.CreatedAt = now
	profile.UpdatedAt = now

	planning, execution, planFB, execFB, err := encodeConfigs(profile)
	if err != nil {
		return Profile{}, err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO model_profiles (id, name, planning, execution, planning_fallbacks, execution_fallbacks, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		profile.ID, profile.Name, planning, execution, planFB, execFB, profile.CreatedAt, profile.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return Profile{}, taskerr.Validationf("profile %q already exists", profile.ID)
		}
		return Profile{}, fmt.Errorf("insert profile: %w", err)
	}
	return profile, nil
}

// Get reads one profile by id.
func (s *ProfileStore) Get(ctx context.Context, id string) (Profile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, planning, execution, planning_fallbacks, execution_fallbacks, created_at, updated_at
		 FROM model_profiles WHERE id = ?`, id)
	profile, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return Profile{}, taskerr.NotFoundf("profile %q not found", id)
	}
	if err != nil {
		return Profile{}, fmt.Errorf("read profile: %w", err)
	}
	return profile, nil
}

// List returns all profiles ordered by name.
func (s *ProfileStore) List(ctx context.Context) ([]Profile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, planning, execution, planning_fallbacks, execution_fallbacks, created_at, updated_at
		 FROM model_profiles ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []Profile
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		profiles = append(profiles, profile)
	}
	return profiles, rows.Err()
}

// Update replaces an existing profile's fields; CreatedAt is preserved.
func (s *ProfileStore) Update(ctx context.Context, profile Profile) (Profile, error) {
	if err := profile.Validate(); err != nil {
		return Profile{}, err
	}
	profile.UpdatedAt = s.clock().UTC()

	planning, execution, planFB, execFB, err := encodeConfigs(profile)
	if err != nil {
		return Profile{}, err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE model_profiles
		 SET name = ?, planning = ?, execution = ?, planning_fallbacks = ?, execution_fallbacks = ?, updated_at = ?
		 WHERE id = ?`,
		profile.Name, planning, execution, planFB, execFB, profile.UpdatedAt, profile.ID)
	if err != nil {
		return Profile{}, fmt.Errorf("update profile: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Profile{}, fmt.Errorf("update profile: %w", err)
	}
	if affected == 0 {
		return Profile{}, taskerr.NotFoundf("profile %q not found", profile.ID)
	}
	return s.Get(ctx, profile.ID)
}

// Delete removes a profile. Deleting an unknown id is a no-op.
func (s *ProfileStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM model_profiles WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	return nil
}

// Layer converts a profile into an overlay layer for defaults resolution.
func (p Profile) Layer() Layer {
	planning := p.Planning
	execution := p.Execution
	return Layer{
		PlanningModelConfig:     &planning,
		ExecutionModelConfig:    &execution,
		PlanningFallbackModels:  append([]models.ModelConfig(nil), p.PlanningFallbacks...),
		ExecutionFallbackModels: append([]models.ModelConfig(nil), p.ExecutionFallbacks...),
	}.normalize()
}

func encodeConfigs(p Profile) (planning, execution, planFB, execFB string, err error) {
	encode := func(v any) (string, error) {
		data, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("marshal model config: %w", err)
		}
		return string(data), nil
	}
	if planning, err = encode(p.Planning); err != nil {
		return
	}
	if execution, err = encode(p.Execution); err != nil {
		return
	}
	if p.PlanningFallbacks == nil {
		p.PlanningFallbacks = []models.ModelConfig{}
	}
	if p.ExecutionFallbacks == nil {
		p.ExecutionFallbacks = []models.ModelConfig{}
	}
	if planFB, err = encode(p.PlanningFallbacks); err != nil {
		return
	}
	execFB, err = encode(p.ExecutionFallbacks)
	return
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (Profile, error) {
	var profile Profile
	var planning, execution, planFB, execFB string
	if err := row.Scan(&profile.ID, &profile.Name, &planning, &execution, &planFB, &execFB, &profile.CreatedAt, &profile.UpdatedAt); err != nil {
		return Profile{}, err
	}
	if err := json.Unmarshal([]byte(planning), &profile.Planning); err != nil {
		return Profile{}, fmt.Errorf("decode planning config: %w", err)
	}
	if err := json.Unmarshal([]byte(execution), &profile.Execution); err != nil {
		return Profile{}, fmt.Errorf("decode execution config: %w", err)
	}
	if err := json.Unmarshal([]byte(planFB), &profile.PlanningFallbacks); err != nil {
		return Profile{}, fmt.Errorf("decode planning fallbacks: %w", err)
	}
	if err := json.Unmarshal([]byte(execFB), &profile.ExecutionFallbacks); err != nil {
		return Profile{}, fmt.Errorf("decode execution fallbacks: %w", err)
	}
	if len(profile.PlanningFallbacks) == 0 {
		profile.PlanningFallbacks = nil
	}
	if len(profile.ExecutionFallbacks) == 0 {
		profile.ExecutionFallbacks = nil
	}
	return profile, nil
}
