package database

import (
	"database/sql"
	"fmt"
	"strings"
)

// SchemaValidator checks that a database carries the tables, columns and
// indexes the durable log and user store expect.
type SchemaValidator struct {
	db *sql.DB
}

func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

var requiredColumns = map[string]map[string]string{
	"users": {
		"id": "TEXT", "username": "TEXT", "role": "TEXT", "password_hash": "TEXT", "created_at": "DATETIME",
	},
	"session_audit": {
		"id": "INTEGER", "timestamp": "DATETIME", "session_id": "TEXT", "token": "TEXT", "user_id": "TEXT", "username": "TEXT",
	},
	"rooms": {
		"id": "TEXT", "prompt": "TEXT", "participants": "TEXT", "start_time": "DATETIME", "end_time": "DATETIME",
	},
	"messages": {
		"room_id": "TEXT", "ordinal": "INTEGER", "session_id": "TEXT", "user_id": "TEXT", "alias": "TEXT",
		"content": "TEXT", "recipients": "TEXT", "timestamp": "DATETIME",
	},
	"reactions": {
		"id": "INTEGER", "room_id": "TEXT", "message_ordinal": "INTEGER", "session_id": "TEXT", "user_id": "TEXT",
		"type": "TEXT", "timestamp": "DATETIME",
	},
}

var requiredIndexes = []string{
	"idx_session_audit_user",
	"idx_reactions_room",
}

// Validate runs every check.
func (v *SchemaValidator) Validate() error {
	if err := v.ValidateTablesExist(); err != nil {
		return err
	}
	if err := v.ValidateTableStructure(); err != nil {
		return err
	}
	return v.ValidateIndexes()
}

func (v *SchemaValidator) ValidateTablesExist() error {
	tables := append([]string{"schema_migrations"}, mapKeys(requiredColumns)...)
	for _, table := range tables {
		exists, err := v.exists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}
	return nil
}

func (v *SchemaValidator) ValidateTableStructure() error {
	for table, columns := range requiredColumns {
		if err := v.validateColumns(table, columns); err != nil {
			return fmt.Errorf("%s table structure invalid: %w", table, err)
		}
	}
	return nil
}

func (v *SchemaValidator) ValidateIndexes() error {
	for _, index := range requiredIndexes {
		exists, err := v.exists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s: %w", index, err)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}
	return nil
}

func (v *SchemaValidator) exists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?", kind, name).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) validateColumns(table string, expected map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]string)
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return err
		}
		found[name] = strings.ToUpper(colType)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for column, wantType := range expected {
		gotType, ok := found[column]
		if !ok {
			return fmt.Errorf("missing column %s", column)
		}
		if gotType != wantType {
			return fmt.Errorf("column %s has type %s, want %s", column, gotType, wantType)
		}
	}
	return nil
}

func mapKeys(m map[string]map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
