package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/xiaot623/chatline/internal/domain"
)

// ErrNoRows is returned by conditional updates that matched nothing.
var ErrNoRows = errors.New("no matching row")

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens dsn and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Each connection to an in-memory database sees its own empty database,
	// and shared-cache connections fail with SQLITE_LOCKED instead of
	// waiting on the busy timeout.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") || strings.Contains(dsn, "cache=shared") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			user_id TEXT PRIMARY KEY,
			username TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			conversation_id TEXT PRIMARY KEY,
			participant_a TEXT NOT NULL,
			participant_b TEXT NOT NULL,
			last_message_id TEXT,
			unread_count INTEGER NOT NULL DEFAULT 0 CHECK (unread_count >= 0),
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CHECK (participant_a < participant_b),
			UNIQUE (participant_a, participant_b)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_b ON conversations(participant_b)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			receiver_id TEXT NOT NULL,
			body TEXT NOT NULL,
			attachment_url TEXT NOT NULL DEFAULT '',
			is_read INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (conversation_id) REFERENCES conversations(conversation_id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages(conversation_id, receiver_id, is_read)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	// Tombstone columns arrived after the first schema.
	if err := s.ensureColumn("messages", "deleted_at", "ALTER TABLE messages ADD COLUMN deleted_at DATETIME"); err != nil {
		return err
	}
	if err := s.ensureColumn("messages", "deleted_by", "ALTER TABLE messages ADD COLUMN deleted_by TEXT"); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteStore) ensureColumn(tableName, columnName, ddl string) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dfltValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if name == columnName {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = s.db.Exec(ddl)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// User operations

// CreateUser inserts the user or refreshes its username.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *domain.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, username, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET username = excluded.username`,
		user.ID, user.Username, user.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	var user domain.User
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, username, created_at FROM users WHERE user_id = ?`, userID).
		Scan(&user.ID, &user.Username, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// Conversation operations

const conversationColumns = `c.conversation_id, c.participant_a, c.participant_b, c.last_message_id,
	c.unread_count, c.created_at, c.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*domain.Conversation, error) {
	var conv domain.Conversation
	var lastMessageID sql.NullString
	if err := row.Scan(&conv.ID, &conv.Participants.A, &conv.Participants.B, &lastMessageID,
		&conv.UnreadCount, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return nil, err
	}
	conv.LastMessageID = lastMessageID.String
	return &conv, nil
}

func (s *SQLiteStore) FindConversationByParticipants(ctx context.Context, pair domain.Pair) (*domain.Conversation, error) {
	pair = domain.NewPair(pair.A, pair.B)
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations c WHERE c.participant_a = ? AND c.participant_b = ?`,
		pair.A, pair.B)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find conversation: %w", err)
	}
	return conv, nil
}

// CreateConversation relies on the unique participant pair: a concurrent
// insert for the same pair is ignored and the winner's row is re-fetched.
func (s *SQLiteStore) CreateConversation(ctx context.Context, pair domain.Pair) (*domain.Conversation, error) {
	pair = domain.NewPair(pair.A, pair.B)
	if pair.A == "" || pair.A == pair.B {
		return nil, fmt.Errorf("invalid participant pair %q", pair.String())
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO conversations (conversation_id, participant_a, participant_b, unread_count, created_at, updated_at)
		 VALUES (?, ?, ?, 0, ?, ?)`,
		uuid.New().String(), pair.A, pair.B, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	conv, err := s.FindConversationByParticipants(ctx, pair)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, fmt.Errorf("conversation %s vanished after create", pair.String())
	}
	return conv, nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations c WHERE c.conversation_id = ?`, conversationID)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conv, nil
}

// ListConversations returns the user's conversations, most recently updated
// first, with their last message attached.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conversationColumns+`,
			m.message_id, m.sender_id, m.receiver_id, m.body, m.attachment_url, m.is_read, m.created_at, m.deleted_at, m.deleted_by
		 FROM conversations c
		 LEFT JOIN messages m ON m.message_id = c.last_message_id
		 WHERE c.participant_a = ? OR c.participant_b = ?
		 ORDER BY c.updated_at DESC, c.rowid DESC`,
		userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []domain.Conversation
	for rows.Next() {
		var conv domain.Conversation
		var lastMessageID sql.NullString
		var (
			msgID, senderID, receiverID, body, attachment, deletedBy sql.NullString
			isRead                                                   sql.NullBool
			createdAt, deletedAt                                     sql.NullTime
		)
		if err := rows.Scan(&conv.ID, &conv.Participants.A, &conv.Participants.B, &lastMessageID,
			&conv.UnreadCount, &conv.CreatedAt, &conv.UpdatedAt,
			&msgID, &senderID, &receiverID, &body, &attachment, &isRead, &createdAt, &deletedAt, &deletedBy); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conv.LastMessageID = lastMessageID.String
		if msgID.Valid {
			msg := &domain.Message{
				ID:             msgID.String,
				ConversationID: conv.ID,
				SenderID:       senderID.String,
				ReceiverID:     receiverID.String,
				Body:           body.String,
				AttachmentURL:  attachment.String,
				IsRead:         isRead.Bool,
				CreatedAt:      createdAt.Time,
				DeletedBy:      deletedBy.String,
			}
			if deletedAt.Valid {
				t := deletedAt.Time
				msg.DeletedAt = &t
			}
			conv.LastMessage = msg
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

// DeleteConversation removes the conversation and, by cascade, its messages.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, conversationID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return false, fmt.Errorf("failed to delete conversation: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListContacts returns every user sharing a conversation with userID.
func (s *SQLiteStore) ListContacts(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT CASE WHEN participant_a = ? THEN participant_b ELSE participant_a END
		 FROM conversations WHERE participant_a = ? OR participant_b = ?`,
		userID, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	var contacts []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		contacts = append(contacts, id)
	}
	return contacts, rows.Err()
}

// UpdateConversationSummary moves lastMessage forward and bumps the unread
// counter in one statement.
func (s *SQLiteStore) UpdateConversationSummary(ctx context.Context, conversationID, lastMessageID string, delta int, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE conversations
		 SET last_message_id = ?, unread_count = unread_count + ?, updated_at = ?
		 WHERE conversation_id = ?`,
		lastMessageID, delta, at.UTC(), conversationID)
	if err != nil {
		return fmt.Errorf("failed to update conversation summary: %w", err)
	}
	return expectRows(result, conversationID)
}

func (s *SQLiteStore) IncrementUnread(ctx context.Context, conversationID string, delta int) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET unread_count = MAX(unread_count + ?, 0) WHERE conversation_id = ?`,
		delta, conversationID)
	if err != nil {
		return fmt.Errorf("failed to increment unread count: %w", err)
	}
	return expectRows(result, conversationID)
}

func (s *SQLiteStore) GetUnreadCount(ctx context.Context, conversationID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT unread_count FROM conversations WHERE conversation_id = ?`, conversationID).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get unread count: %w", err)
	}
	return count, nil
}

// MarkRead flips every unread message addressed to userID and resets the
// conversation counter. It returns the number of messages flipped.
func (s *SQLiteStore) MarkRead(ctx context.Context, conversationID, userID string, at time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE messages SET is_read = 1 WHERE conversation_id = ? AND receiver_id = ? AND is_read = 0`,
		conversationID, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", err)
	}
	flipped, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET unread_count = 0, updated_at = ?
		 WHERE conversation_id = ? AND unread_count <> 0`,
		at.UTC(), conversationID); err != nil {
		return 0, fmt.Errorf("failed to reset unread count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit mark read: %w", err)
	}
	return int(flipped), nil
}

// Message operations

const messageColumns = `message_id, conversation_id, sender_id, receiver_id, body, attachment_url,
	is_read, created_at, deleted_at, deleted_by`

func scanMessage(row rowScanner) (*domain.Message, error) {
	var msg domain.Message
	var deletedAt sql.NullTime
	var deletedBy sql.NullString
	if err := row.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.ReceiverID, &msg.Body,
		&msg.AttachmentURL, &msg.IsRead, &msg.CreatedAt, &deletedAt, &deletedBy); err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		msg.DeletedAt = &t
	}
	msg.DeletedBy = deletedBy.String
	return &msg, nil
}

func (s *SQLiteStore) CreateMessage(ctx context.Context, message *domain.Message) error {
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}
	message.CreatedAt = message.CreatedAt.UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (message_id, conversation_id, sender_id, receiver_id, body, attachment_url, is_read, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		message.ID, message.ConversationID, message.SenderID, message.ReceiverID, message.Body,
		message.AttachmentURL, message.IsRead, message.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetMessage(ctx context.Context, messageID string) (*domain.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE message_id = ?`, messageID)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

// ListMessages pages backwards from the newest message and returns the page
// in chronological order together with the conversation's message total.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]domain.Message, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		conversationID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, total, nil
}

// SoftDeleteMessage tombstones a message sent by userID. It reports false
// when no live message of that sender matched.
func (s *SQLiteStore) SoftDeleteMessage(ctx context.Context, messageID, userID string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE messages SET deleted_at = ?, deleted_by = ?
		 WHERE message_id = ? AND sender_id = ? AND deleted_at IS NULL`,
		at.UTC(), userID, messageID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete message: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func expectRows(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("conversation %s: %w", id, ErrNoRows)
	}
	return nil
}
