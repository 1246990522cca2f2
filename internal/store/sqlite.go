// Package store provides storage backends for GuestPipe.
//
// This file implements an SQLite-backed Store suitable for single-node
// deployments.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/GuestPipe/GuestPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn+"?_busy_timeout=5000")
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveFlow(f models.FlowDefinition) error {
	now := time.Now()
	_, err := s.db.Exec(`
		INSERT INTO flows (category, id, name, version, active, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT(category) DO UPDATE SET
			id = excluded.id, name = excluded.name, active = excluded.active,
			version = flows.version + 1, updated_at = excluded.updated_at`,
		f.Category, f.ID, f.Name, f.Active, now, now)
	if err != nil {
		slog.Error("SQLiteStore SaveFlow failed", "error", err, "category", f.Category)
		return fmt.Errorf("failed to save flow %s: %w", f.Category, err)
	}
	return nil
}

func (s *SQLiteStore) GetFlow(category string) (*models.FlowDefinition, error) {
	var f models.FlowDefinition
	err := s.db.QueryRow(`SELECT category, id, name, version, active, created_at, updated_at FROM flows WHERE category = ?`, category).
		Scan(&f.Category, &f.ID, &f.Name, &f.Version, &f.Active, &f.CreatedAt, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrFlowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query flow %s: %w", category, err)
	}
	return &f, nil
}

func (s *SQLiteStore) ListFlows() ([]models.FlowDefinition, error) {
	rows, err := s.db.Query(`SELECT category, id, name, version, active, created_at, updated_at FROM flows ORDER BY category`)
	if err != nil {
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}
	defer rows.Close()

	var flows []models.FlowDefinition
	for rows.Next() {
		var f models.FlowDefinition
		if err := rows.Scan(&f.Category, &f.ID, &f.Name, &f.Version, &f.Active, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan flow row: %w", err)
		}
		flows = append(flows, f)
	}
	return flows, rows.Err()
}

func (s *SQLiteStore) DeleteFlow(category string) error {
	res, err := s.db.Exec(`DELETE FROM flows WHERE category = ?`, category)
	if err != nil {
		return fmt.Errorf("failed to delete flow %s: %w", category, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrFlowNotFound
	}
	_, err = s.db.Exec(`DELETE FROM steps WHERE flow_category = ?`, category)
	if err != nil {
		return fmt.Errorf("failed to delete steps of flow %s: %w", category, err)
	}
	return nil
}

func (s *SQLiteStore) SaveStep(step models.StepDefinition) error {
	interactiveJSON, err := marshalOrNil(step.Interactive)
	if err != nil {
		return err
	}
	optionsJSON, err := marshalOrNil(step.Options)
	if err != nil {
		return err
	}
	conditionalJSON, err := marshalOrNil(step.ConditionalNext)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO steps (flow_category, id, display_order, message_template, interactive_json, options_json, default_next, conditional_json, is_optional, data_key, is_customizable)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(flow_category, id) DO UPDATE SET
			display_order = excluded.display_order,
			message_template = excluded.message_template,
			interactive_json = excluded.interactive_json,
			options_json = excluded.options_json,
			default_next = excluded.default_next,
			conditional_json = excluded.conditional_json,
			is_optional = excluded.is_optional,
			data_key = excluded.data_key,
			is_customizable = excluded.is_customizable`,
		step.FlowCategory, step.ID, step.DisplayOrder, step.MessageTemplate,
		interactiveJSON, optionsJSON, nilIfEmpty(step.DefaultNext), conditionalJSON,
		step.IsOptional, nilIfEmpty(step.DataKey), step.IsCustomizable)
	if err != nil {
		slog.Error("SQLiteStore SaveStep failed", "error", err, "category", step.FlowCategory, "stepID", step.ID)
		return fmt.Errorf("failed to save step %s/%s: %w", step.FlowCategory, step.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetStep(category, stepID string) (*models.StepDefinition, error) {
	row := s.db.QueryRow(`SELECT `+stepColumns+` FROM steps WHERE flow_category = ? AND id = ?`, category, stepID)
	step, err := scanStep(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrStepNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query step %s/%s: %w", category, stepID, err)
	}
	return &step, nil
}

func (s *SQLiteStore) GetRootStep(category string) (*models.StepDefinition, error) {
	row := s.db.QueryRow(`SELECT `+stepColumns+` FROM steps WHERE flow_category = ? ORDER BY display_order, id LIMIT 1`, category)
	step, err := scanStep(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrStepNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query root step of %s: %w", category, err)
	}
	return &step, nil
}

func (s *SQLiteStore) ListSteps(category string) ([]models.StepDefinition, error) {
	rows, err := s.db.Query(`SELECT `+stepColumns+` FROM steps WHERE flow_category = ? ORDER BY display_order, id`, category)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps of %s: %w", category, err)
	}
	defer rows.Close()

	var steps []models.StepDefinition
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step row: %w", err)
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

func (s *SQLiteStore) DeleteStep(category, stepID string) error {
	res, err := s.db.Exec(`DELETE FROM steps WHERE flow_category = ? AND id = ?`, category, stepID)
	if err != nil {
		return fmt.Errorf("failed to delete step %s/%s: %w", category, stepID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrStepNotFound
	}
	return nil
}

func (s *SQLiteStore) SaveOverlay(o models.CustomizationOverlay) error {
	stepsJSON, err := marshalOrNil(o.Steps)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO overlays (hotel_id, flow_category, enabled, steps_json, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(hotel_id, flow_category) DO UPDATE SET
			enabled = excluded.enabled, steps_json = excluded.steps_json, updated_at = excluded.updated_at`,
		o.HotelID, o.FlowCategory, o.Enabled, stepsJSON, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save overlay %s/%s: %w", o.HotelID, o.FlowCategory, err)
	}
	return nil
}

func (s *SQLiteStore) GetOverlay(hotelID, category string) (*models.CustomizationOverlay, error) {
	var o models.CustomizationOverlay
	var stepsJSON sql.NullString
	err := s.db.QueryRow(`SELECT hotel_id, flow_category, enabled, steps_json, updated_at FROM overlays WHERE hotel_id = ? AND flow_category = ?`, hotelID, category).
		Scan(&o.HotelID, &o.FlowCategory, &o.Enabled, &stepsJSON, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query overlay %s/%s: %w", hotelID, category, err)
	}
	if err := unmarshalInto(stepsJSON, &o.Steps); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *SQLiteStore) ListOverlays(hotelID string) ([]models.CustomizationOverlay, error) {
	rows, err := s.db.Query(`SELECT hotel_id, flow_category, enabled, steps_json, updated_at FROM overlays WHERE hotel_id = ? ORDER BY flow_category`, hotelID)
	if err != nil {
		return nil, fmt.Errorf("failed to query overlays of %s: %w", hotelID, err)
	}
	defer rows.Close()

	var overlays []models.CustomizationOverlay
	for rows.Next() {
		var o models.CustomizationOverlay
		var stepsJSON sql.NullString
		if err := rows.Scan(&o.HotelID, &o.FlowCategory, &o.Enabled, &stepsJSON, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan overlay row: %w", err)
		}
		if err := unmarshalInto(stepsJSON, &o.Steps); err != nil {
			return nil, err
		}
		overlays = append(overlays, o)
	}
	return overlays, rows.Err()
}

func (s *SQLiteStore) DeleteOverlay(hotelID, category string) error {
	_, err := s.db.Exec(`DELETE FROM overlays WHERE hotel_id = ? AND flow_category = ?`, hotelID, category)
	if err != nil {
		return fmt.Errorf("failed to delete overlay %s/%s: %w", hotelID, category, err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(userID, hotelID string) (*models.Session, error) {
	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE user_id = ? AND hotel_id = ?`, userID, hotelID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session %s/%s: %w", userID, hotelID, err)
	}
	return &sess, nil
}

func (s *SQLiteStore) CreateSession(sess models.Session) (*models.Session, error) {
	now := time.Now()
	sess.Version = 1
	sess.CreatedAt = now
	sess.UpdatedAt = now
	collectedJSON, err := marshalOrNil(sess.Collected)
	if err != nil {
		return nil, err
	}
	historyJSON, err := marshalOrNil(sess.History)
	if err != nil {
		return nil, err
	}
	_, err = s.db.Exec(`
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, hotel_id) DO UPDATE SET
			flow_category = excluded.flow_category,
			current_step = excluded.current_step,
			collected_json = excluded.collected_json,
			history_json = excluded.history_json,
			error_count = excluded.error_count,
			last_activity = excluded.last_activity,
			active = excluded.active,
			version = 1,
			updated_at = excluded.updated_at`,
		sess.UserID, sess.HotelID, sess.FlowCategory, sess.CurrentStep,
		collectedJSON, historyJSON, sess.ErrorCount, sess.LastActivity,
		sess.Active, sess.Version, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore CreateSession failed", "error", err, "userID", sess.UserID, "hotelID", sess.HotelID)
		return nil, fmt.Errorf("failed to create session %s/%s: %w", sess.UserID, sess.HotelID, err)
	}
	return &sess, nil
}

func (s *SQLiteStore) SaveSession(sess models.Session) (*models.Session, error) {
	collectedJSON, err := marshalOrNil(sess.Collected)
	if err != nil {
		return nil, err
	}
	historyJSON, err := marshalOrNil(sess.History)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	res, err := s.db.Exec(`
		UPDATE sessions SET
			flow_category = ?, current_step = ?, collected_json = ?, history_json = ?,
			error_count = ?, last_activity = ?, active = ?, version = version + 1, updated_at = ?
		WHERE user_id = ? AND hotel_id = ? AND version = ?`,
		sess.FlowCategory, sess.CurrentStep, collectedJSON, historyJSON,
		sess.ErrorCount, sess.LastActivity, sess.Active, now,
		sess.UserID, sess.HotelID, sess.Version)
	if err != nil {
		slog.Error("SQLiteStore SaveSession failed", "error", err, "userID", sess.UserID, "hotelID", sess.HotelID)
		return nil, fmt.Errorf("failed to save session %s/%s: %w", sess.UserID, sess.HotelID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		// Either the key is absent or the version moved under us.
		existing, err := s.GetSession(sess.UserID, sess.HotelID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, models.ErrSessionNotFound
		}
		return nil, models.ErrSessionConflict
	}
	sess.Version++
	sess.UpdatedAt = now
	return &sess, nil
}

func (s *SQLiteStore) DeleteSessions(userID string) (int, error) {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sessions of %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) IsDuplicate(messageID string) (bool, error) {
	var id string
	err := s.db.QueryRow(`SELECT message_id FROM inbound_dedup WHERE message_id = ?`, messageID).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) RecordInbound(messageID, userID, hotelID string) (bool, error) {
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO inbound_dedup (message_id, user_id, hotel_id, received_at) VALUES (?, ?, ?, ?)`,
		messageID, userID, hotelID, time.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) MarkProcessed(messageID string) error {
	_, err := s.db.Exec(
		`UPDATE inbound_dedup SET processed_at = ? WHERE message_id = ?`,
		time.Now(), messageID,
	)
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetGuestContext(userID, hotelID string) (map[string]string, error) {
	var fieldsJSON sql.NullString
	err := s.db.QueryRow(`SELECT fields_json FROM guest_context WHERE user_id = ? AND hotel_id = ?`, userID, hotelID).Scan(&fieldsJSON)
	if err == sql.ErrNoRows {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query guest context %s/%s: %w", userID, hotelID, err)
	}
	fields := map[string]string{}
	if err := unmarshalInto(fieldsJSON, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func (s *SQLiteStore) SaveGuestContext(userID, hotelID string, fields map[string]string) error {
	existing, err := s.GetGuestContext(userID, hotelID)
	if err != nil {
		return err
	}
	for k, v := range fields {
		existing[k] = v
	}
	fieldsJSON, err := marshalOrNil(existing)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO guest_context (user_id, hotel_id, fields_json, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, hotel_id) DO UPDATE SET
			fields_json = excluded.fields_json, updated_at = excluded.updated_at`,
		userID, hotelID, fieldsJSON, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save guest context %s/%s: %w", userID, hotelID, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
