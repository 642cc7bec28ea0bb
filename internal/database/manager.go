package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	dbconfig "campusrelay/pkg/database"
	"campusrelay/pkg/interfaces"
	"campusrelay/pkg/types"
)

// ErrClosed is returned for writes issued after Close.
var ErrClosed = errors.New("database manager is closed")

// ErrDuplicate is returned when a unique key already exists.
var ErrDuplicate = errors.New("record already exists")

const writeTimeout = 30 * time.Second

// Manager implements the directory and message store on SQLite.
// Reads go straight to the pool; writes are serialized through one goroutine.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       *slog.Logger
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

var (
	_ interfaces.Directory    = (*Manager)(nil)
	_ interfaces.MessageStore = (*Manager)(nil)
)

type writeOperation struct {
	ctx       context.Context
	operation func(context.Context, *sql.DB) error
	result    chan error
}

// NewManager opens the database, applies migrations, validates the schema and
// starts the writer goroutine.
func NewManager(config *dbconfig.Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := dbconfig.Open(config)
	if err != nil {
		return nil, err
	}

	if err := dbconfig.NewMigrationManager(db).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	if err := dbconfig.NewSchemaValidator(db).Validate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	m := &Manager{
		db:           db,
		config:       config,
		logger:       logger.With("component", "database"),
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	m.wg.Add(1)
	go m.writeLoop()

	return m, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(op.ctx, m.db)
			if err != nil {
				m.logger.Warn("database write failed", "error", err)
			}
			op.result <- err
		case <-m.shutdown:
			m.logger.Info("database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write and waits for its result, the caller's context,
// or shutdown, whichever comes first.
func (m *Manager) executeWrite(ctx context.Context, operation func(context.Context, *sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	m.mu.RUnlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, writeTimeout)
		defer cancel()
	}

	result := make(chan error, 1)
	select {
	case m.writeChannel <- writeOperation{ctx: ctx, operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrClosed
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ResolveParticipant looks a user up in the counselor table first, then the
// student table.
func (m *Manager) ResolveParticipant(ctx context.Context, userID string) (types.Participant, error) {
	const query = `
		SELECT id, name, campus_id, 'Counselor' AS role, 0 AS precedence FROM counselor_users WHERE id = ?
		UNION ALL
		SELECT id, '' AS name, campus_id, 'Student' AS role, 1 AS precedence FROM student_users WHERE id = ?
		ORDER BY precedence
		LIMIT 1
	`
	var (
		p          types.Participant
		role       string
		precedence int
	)
	err := m.db.QueryRowContext(ctx, query, userID, userID).Scan(&p.UserID, &p.Name, &p.CampusID, &role, &precedence)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Participant{}, interfaces.ErrNotFound
	}
	if err != nil {
		return types.Participant{}, fmt.Errorf("failed to resolve participant: %w", err)
	}
	p.Role = types.Role(role)
	return p, nil
}

// LookupRecipient finds a user of the given role within one campus.
func (m *Manager) LookupRecipient(ctx context.Context, role types.Role, userID, campusID string) (types.Participant, error) {
	var query string
	switch role {
	case types.RoleCounselor:
		query = `SELECT id, name, campus_id FROM counselor_users WHERE id = ? AND campus_id = ?`
	case types.RoleStudent:
		query = `SELECT id, '' AS name, campus_id FROM student_users WHERE id = ? AND campus_id = ?`
	default:
		return types.Participant{}, interfaces.ErrNotFound
	}

	p := types.Participant{Role: role}
	err := m.db.QueryRowContext(ctx, query, userID, campusID).Scan(&p.UserID, &p.Name, &p.CampusID)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Participant{}, interfaces.ErrNotFound
	}
	if err != nil {
		return types.Participant{}, fmt.Errorf("failed to look up recipient: %w", err)
	}
	return p, nil
}

// IsPaidStudent reports the subscription flag stored for a student.
func (m *Manager) IsPaidStudent(ctx context.Context, userID string) (bool, error) {
	var paid bool
	err := m.db.QueryRowContext(ctx, `SELECT is_paid FROM student_users WHERE id = ?`, userID).Scan(&paid)
	if errors.Is(err, sql.ErrNoRows) {
		return false, interfaces.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to read subscription: %w", err)
	}
	return paid, nil
}

// StoreMessage records a durable message reference.
func (m *Manager) StoreMessage(ctx context.Context, msg *types.PersistedMessage) error {
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO chat_messages (message_id, conversation_id, sender_id, recipient_id, body_ref, timestamp)
			VALUES (?, ?, ?, ?, ?, ?)
		`, msg.MessageID, msg.ConversationID, msg.SenderID, msg.RecipientID, msg.BodyRef, msg.Timestamp)
		if isUniqueViolation(err) {
			return fmt.Errorf("message %s: %w", msg.MessageID, ErrDuplicate)
		}
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		return nil
	})
}

// ListConversation returns the most recent limit records, oldest first.
func (m *Manager) ListConversation(ctx context.Context, conversationID string, limit int) ([]*types.PersistedMessage, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT message_id, conversation_id, sender_id, recipient_id, body_ref, timestamp FROM (
			SELECT id, message_id, conversation_id, sender_id, recipient_id, body_ref, timestamp
			FROM chat_messages
			WHERE conversation_id = ?
			ORDER BY id DESC
			LIMIT ?
		) ORDER BY id ASC
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*types.PersistedMessage
	for rows.Next() {
		var msg types.PersistedMessage
		if err := rows.Scan(&msg.MessageID, &msg.ConversationID, &msg.SenderID, &msg.RecipientID, &msg.BodyRef, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return messages, nil
}

// CreateSchool inserts a campus.
func (m *Manager) CreateSchool(ctx context.Context, s types.School) error {
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `INSERT INTO schools (id, name, location) VALUES (?, ?, ?)`, s.ID, s.Name, s.Location)
		return wrapInsert("school", s.ID, err)
	})
}

// CreateCounselor inserts a counselor account.
func (m *Manager) CreateCounselor(ctx context.Context, c types.Counselor) error {
	if !types.IsValidUserID(c.UserID) {
		return types.ErrInvalidUserID
	}
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `INSERT INTO counselor_users (id, name, email, campus_id) VALUES (?, ?, ?, ?)`,
			c.UserID, c.Name, c.Email, c.CampusID)
		return wrapInsert("counselor", c.UserID, err)
	})
}

// CreateStudent inserts a student account.
func (m *Manager) CreateStudent(ctx context.Context, s types.Student) error {
	if !types.IsValidUserID(s.UserID) {
		return types.ErrInvalidUserID
	}
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `INSERT INTO student_users (id, campus_id, is_paid) VALUES (?, ?, ?)`,
			s.UserID, s.CampusID, s.Paid)
		return wrapInsert("student", s.UserID, err)
	})
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schools").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close stops the writer and closes the pool. Safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func wrapInsert(kind, id string, err error) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%s %s: %w", kind, id, ErrDuplicate)
	}
	return fmt.Errorf("failed to insert %s: %w", kind, err)
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
