package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aexy-app/aexy/internal/domain"
	_ "modernc.org/sqlite"
)

var (
	// ErrUserNotFound is returned by writes that target a missing user.
	ErrUserNotFound = errors.New("user not found")
	// ErrConversationNotFound is returned by writes that target a missing conversation.
	ErrConversationNotFound = errors.New("conversation not found")
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		tier TEXT NOT NULL DEFAULT 'FREE',
		conversations_today INTEGER NOT NULL DEFAULT 0,
		streak INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversations (
		conversation_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(user_id),
		scenario_id INTEGER NOT NULL,
		status TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER,
		total_messages INTEGER,
		duration_seconds REAL,
		fluency INTEGER,
		grammar INTEGER,
		pronunciation INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_user_started ON conversations(user_id, started_at DESC);

	CREATE TABLE IF NOT EXISTS messages (
		conversation_id TEXT NOT NULL REFERENCES conversations(conversation_id),
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		feedback_json TEXT,
		avatar TEXT,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (conversation_id, seq)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, tier, conversations_today, streak, created_at, updated_at
		FROM users WHERE user_id = ?`

	var user domain.User
	var tier string
	var createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.UserID, &user.Username, &tier,
		&user.ConversationsToday, &user.Streak, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.Tier = domain.Tier(tier)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)

	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, tier, conversations_today, streak, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		updated_at = excluded.updated_at`

	tier := user.Tier
	if tier == domain.TierUnknown {
		tier = domain.TierFree
	}

	_, err := s.db.ExecContext(ctx, query,
		user.UserID, user.Username, string(tier),
		user.ConversationsToday, user.Streak,
		user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateTier changes the subscription tier of a user.
func (s *SQLiteStore) UpdateTier(ctx context.Context, userID string, tier domain.Tier) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET tier = ?, updated_at = ? WHERE user_id = ?`,
		string(tier), time.Now().Unix(), userID,
	)
	if err != nil {
		return fmt.Errorf("update tier: %w", err)
	}
	return requireRow(result, "UpdateTier", userID, ErrUserNotFound)
}

// Increment atomically adds one to the user's conversations_today counter.
func (s *SQLiteStore) Increment(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`UPDATE users SET conversations_today = conversations_today + 1, updated_at = ?
		 WHERE user_id = ? RETURNING conversations_today`,
		time.Now().Unix(), userID,
	).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment conversations_today: %w", err)
	}
	return n, nil
}

// Count returns the user's conversations_today counter, 0 for unknown users.
func (s *SQLiteStore) Count(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT conversations_today FROM users WHERE user_id = ?`, userID,
	).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("count conversations_today: %w", err)
	}
	return n, nil
}

// CreateConversation inserts a new conversation record.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (conversation_id, user_id, scenario_id, status, started_at)
		 VALUES (?, ?, ?, ?, ?)`,
		conv.ID, conv.UserID, conv.ScenarioID, string(conv.Status), conv.StartedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// EndConversation marks a conversation ended and stores its summary.
func (s *SQLiteStore) EndConversation(ctx context.Context, conversationID string, endedAt time.Time, sum domain.Summary) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET status = ?, ended_at = ?, total_messages = ?, duration_seconds = ?,
		        fluency = ?, grammar = ?, pronunciation = ?
		 WHERE conversation_id = ?`,
		string(domain.StatusEnded), endedAt.UnixMilli(), sum.TotalMessages, sum.Duration,
		sum.Scores.Fluency, sum.Scores.Grammar, sum.Scores.Pronunciation,
		conversationID,
	)
	if err != nil {
		return fmt.Errorf("end conversation: %w", err)
	}
	return requireRow(result, "EndConversation", conversationID, ErrConversationNotFound)
}

const conversationColumns = `conversation_id, user_id, scenario_id, status, started_at, ended_at,
	total_messages, duration_seconds, fluency, grammar, pronunciation`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*domain.Conversation, error) {
	var conv domain.Conversation
	var status string
	var startedAt int64
	var endedAt, total, fluency, grammar, pronunciation sql.NullInt64
	var duration sql.NullFloat64

	if err := row.Scan(
		&conv.ID, &conv.UserID, &conv.ScenarioID, &status, &startedAt, &endedAt,
		&total, &duration, &fluency, &grammar, &pronunciation,
	); err != nil {
		return nil, err
	}

	conv.Status = domain.ConversationStatus(status)
	conv.StartedAt = time.UnixMilli(startedAt).UTC()
	if endedAt.Valid {
		t := time.UnixMilli(endedAt.Int64).UTC()
		conv.EndedAt = &t
	}
	if total.Valid {
		conv.Summary = &domain.Summary{
			TotalMessages: int(total.Int64),
			Duration:      duration.Float64,
			Scores: domain.Scores{
				Fluency:       int(fluency.Int64),
				Grammar:       int(grammar.Int64),
				Pronunciation: int(pronunciation.Int64),
			},
		}
	}
	return &conv, nil
}

// GetConversation retrieves a conversation owned by userID.
func (s *SQLiteStore) GetConversation(ctx context.Context, userID, conversationID string) (*domain.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE conversation_id = ? AND user_id = ?`,
		conversationID, userID,
	)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation row: %w", err)
	}
	return conv, nil
}

// ListConversations returns a user's conversations, newest first. A
// non-positive limit returns all of them.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID string, limit int) ([]*domain.Conversation, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE user_id = ? ORDER BY started_at DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close conversation rows", "error", closeErr)
		}
	}()

	var convs []*domain.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return convs, nil
}

// AppendMessage stores one message of a conversation.
func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID string, msg domain.Message) error {
	var feedbackJSON any
	if msg.Feedback != nil {
		data, err := json.Marshal(msg.Feedback)
		if err != nil {
			return fmt.Errorf("marshal feedback: %w", err)
		}
		feedbackJSON = string(data)
	}

	var avatar any
	if msg.Avatar != "" {
		avatar = msg.Avatar
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, seq, role, content, feedback_json, avatar, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		conversationID, msg.ID, string(msg.Role), msg.Content, feedbackJSON, avatar, msg.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListMessages returns the messages of a conversation in creation order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, role, content, feedback_json, avatar, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY seq ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	msgs := []domain.Message{}
	for rows.Next() {
		var msg domain.Message
		var role string
		var feedbackJSON, avatar sql.NullString
		var createdAt int64

		if err := rows.Scan(&msg.ID, &role, &msg.Content, &feedbackJSON, &avatar, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.Role = domain.Role(role)
		msg.Avatar = avatar.String
		msg.CreatedAt = time.UnixMilli(createdAt).UTC()
		if feedbackJSON.Valid {
			var fb domain.Feedback
			if err := json.Unmarshal([]byte(feedbackJSON.String), &fb); err != nil {
				return nil, fmt.Errorf("unmarshal feedback of message %d: %w", msg.ID, err)
			}
			msg.Feedback = &fb
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func requireRow(result sql.Result, op, id string, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn(op+" affected 0 rows", "id", id)
		return notFound
	}
	return nil
}
