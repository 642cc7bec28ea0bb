package database

import (
	"database/sql"
	"fmt"
)

// tableSpec names a required table and the column types the queries depend on.
type tableSpec struct {
	name    string
	columns map[string]string
}

var requiredTables = []tableSpec{
	{"schools", map[string]string{"id": "TEXT", "name": "TEXT", "location": "TEXT"}},
	{"counselor_users", map[string]string{"id": "TEXT", "name": "TEXT", "email": "TEXT", "campus_id": "TEXT"}},
	{"student_users", map[string]string{"id": "TEXT", "campus_id": "TEXT", "is_paid": "INTEGER"}},
	{"chat_messages", map[string]string{
		"id":              "INTEGER",
		"message_id":      "TEXT",
		"conversation_id": "TEXT",
		"sender_id":       "TEXT",
		"recipient_id":    "TEXT",
		"body_ref":        "TEXT",
		"timestamp":       "TEXT",
	}},
	{"schema_migrations", map[string]string{"version": "TEXT"}},
}

var requiredIndexes = []string{
	"idx_counselor_users_campus",
	"idx_student_users_campus",
	"idx_chat_messages_conversation",
}

// SchemaValidator checks that a migrated database has the shape the
// directory and message store queries expect.
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// Validate runs every table, column and index check.
func (v *SchemaValidator) Validate() error {
	if err := v.ValidateTablesExist(); err != nil {
		return err
	}
	if err := v.ValidateTableStructure(); err != nil {
		return err
	}
	return v.ValidateIndexes()
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	for _, table := range requiredTables {
		exists, err := v.exists("table", table.name)
		if err != nil {
			return fmt.Errorf("error checking table %s: %w", table.name, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table.name)
		}
	}
	return nil
}

// ValidateTableStructure verifies column types match expectations
func (v *SchemaValidator) ValidateTableStructure() error {
	for _, table := range requiredTables {
		if err := v.validateColumns(table.name, table.columns); err != nil {
			return fmt.Errorf("%s table structure invalid: %w", table.name, err)
		}
	}
	return nil
}

// ValidateIndexes verifies that the lookup indexes exist
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
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type=? AND name=?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]string)
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, dataType   string
			defaultValue     any
		)
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		found[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for col, wantType := range expectedColumns {
		gotType, ok := found[col]
		if !ok {
			return fmt.Errorf("column %s not found", col)
		}
		if gotType != wantType {
			return fmt.Errorf("column %s has type %s, expected %s", col, gotType, wantType)
		}
	}
	return nil
}
