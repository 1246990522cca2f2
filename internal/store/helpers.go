package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/GuestPipe/GuestPipe/internal/models"
)

// DetectDSNType classifies a database connection string as "postgres" or
// "sqlite3". Anything that is not clearly a PostgreSQL DSN is treated as a
// SQLite file path.
func DetectDSNType(dsn string) string {
	switch {
	case strings.HasPrefix(dsn, "postgres://"),
		strings.HasPrefix(dsn, "postgresql://"),
		strings.Contains(dsn, "host="),
		strings.Contains(dsn, "dbname="):
		return "postgres"
	default:
		return "sqlite3"
	}
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// marshalOrNil JSON-encodes v, returning nil for empty maps/slices/pointers
// so nullable columns stay NULL.
func marshalOrNil(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case map[string]string:
		if len(t) == 0 {
			return nil, nil
		}
	case []string:
		if len(t) == 0 {
			return nil, nil
		}
	case *models.InteractivePayload:
		if t == nil {
			return nil, nil
		}
	case map[string]models.StepOverride:
		if len(t) == 0 {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal failed: %w", err)
	}
	return string(data), nil
}

// unmarshalInto decodes a nullable JSON column into dest. A NULL column
// leaves dest untouched.
func unmarshalInto(col sql.NullString, dest interface{}) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(col.String), dest); err != nil {
		return fmt.Errorf("unmarshal failed: %w", err)
	}
	return nil
}

// stepScanner abstracts sql.Row and sql.Rows for step scanning.
type stepScanner interface {
	Scan(dest ...interface{}) error
}

const stepColumns = `flow_category, id, display_order, message_template, interactive_json, options_json, default_next, conditional_json, is_optional, data_key, is_customizable`

// scanStep scans a StepDefinition from a row with stepColumns.
func scanStep(row stepScanner) (models.StepDefinition, error) {
	var step models.StepDefinition
	var interactiveJSON, optionsJSON, conditionalJSON, defaultNext, dataKey sql.NullString
	err := row.Scan(
		&step.FlowCategory, &step.ID, &step.DisplayOrder, &step.MessageTemplate,
		&interactiveJSON, &optionsJSON, &defaultNext, &conditionalJSON,
		&step.IsOptional, &dataKey, &step.IsCustomizable,
	)
	if err != nil {
		return step, err
	}
	step.DefaultNext = defaultNext.String
	step.DataKey = dataKey.String
	if interactiveJSON.Valid && interactiveJSON.String != "" {
		step.Interactive = &models.InteractivePayload{}
		if err := unmarshalInto(interactiveJSON, step.Interactive); err != nil {
			return step, err
		}
	}
	if err := unmarshalInto(optionsJSON, &step.Options); err != nil {
		return step, err
	}
	if err := unmarshalInto(conditionalJSON, &step.ConditionalNext); err != nil {
		return step, err
	}
	return step, nil
}

const sessionColumns = `user_id, hotel_id, flow_category, current_step, collected_json, history_json, error_count, last_activity, active, version, created_at, updated_at`

// scanSession scans a Session from a row with sessionColumns.
func scanSession(row stepScanner) (models.Session, error) {
	var sess models.Session
	var collectedJSON, historyJSON sql.NullString
	err := row.Scan(
		&sess.UserID, &sess.HotelID, &sess.FlowCategory, &sess.CurrentStep,
		&collectedJSON, &historyJSON, &sess.ErrorCount, &sess.LastActivity,
		&sess.Active, &sess.Version, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		return sess, err
	}
	if err := unmarshalInto(collectedJSON, &sess.Collected); err != nil {
		return sess, err
	}
	if err := unmarshalInto(historyJSON, &sess.History); err != nil {
		return sess, err
	}
	return sess, nil
}
