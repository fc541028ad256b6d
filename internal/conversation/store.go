package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// conversationCols is the standard SELECT column list for scanConversation.
const conversationCols = `id, title, scope, created_at, updated_at`

// messageCols is the standard SELECT column list for scanMessage.
const messageCols = `id, conversation_id, sequence_number, role, content, created_at`

// Store persists conversations and messages in PostgreSQL.
//
// Store is safe for concurrent use by multiple goroutines. Message appends
// for the same conversation serialize on a row lock, so sequence numbers
// are gapless and strictly increasing per conversation.
type Store struct {
	q      querier
	pool   *pgxpool.Pool // transaction support; nil in unit tests
	logger *slog.Logger
}

// NewStore creates a Store backed by the given pool.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{q: pool, pool: pool, logger: logger}
}

// newStoreWithQuerier builds a Store on a bare querier for unit tests.
// Without a pool, AppendMessage runs non-transactionally.
func newStoreWithQuerier(q querier, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{q: q, logger: logger}
}

// CreateConversation creates a conversation with the given title and scope.
// The title must be non-empty after trimming. An empty scope defaults to
// ScopeGeneral.
func (s *Store) CreateConversation(ctx context.Context, title string, scope Scope) (*Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrTitleRequired
	}
	if len(title) > MaxTitleLength {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrTitleTooLong, len(title), MaxTitleLength)
	}
	if scope == "" {
		scope = ScopeGeneral
	}
	if !scope.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}

	row := s.q.QueryRow(ctx,
		`INSERT INTO conversations (title, scope)
		 VALUES ($1, $2)
		 RETURNING `+conversationCols,
		title, string(scope),
	)

	conv, err := scanConversation(row)
	if err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "scope", conv.Scope)
	return conv, nil
}

// Conversation retrieves a conversation by ID.
// Returns ErrNotFound if no live conversation has that ID.
func (s *Store) Conversation(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+conversationCols+`
		 FROM conversations
		 WHERE id = $1 AND deleted_at IS NULL`,
		id,
	)

	conv, err := scanConversation(row)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("getting conversation %s: %w", id, err)
	}
	return conv, nil
}

// Conversations lists conversations ordered by most recent activity first.
func (s *Store) Conversations(ctx context.Context, limit, offset int32) ([]*Conversation, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+conversationCols+`
		 FROM conversations
		 WHERE deleted_at IS NULL
		 ORDER BY updated_at DESC, id DESC
		 LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}

	s.logger.Debug("listed conversations", "count", len(convs), "limit", limit, "offset", offset)
	return convs, nil
}

// RenameConversation replaces a conversation's title.
// The new title obeys the same validation as CreateConversation.
func (s *Store) RenameConversation(ctx context.Context, id uuid.UUID, title string) (*Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrTitleRequired
	}
	if len(title) > MaxTitleLength {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrTitleTooLong, len(title), MaxTitleLength)
	}

	row := s.q.QueryRow(ctx,
		`UPDATE conversations
		 SET title = $2, updated_at = now()
		 WHERE id = $1 AND deleted_at IS NULL
		 RETURNING `+conversationCols,
		id, title,
	)

	conv, err := scanConversation(row)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("renaming conversation %s: %w", id, err)
	}

	s.logger.Debug("renamed conversation", "id", id)
	return conv, nil
}

// AppendMessage appends a message to a conversation and returns the stored row.
//
// The append is transactional: the conversation row is locked with
// SELECT ... FOR UPDATE, the next sequence number is computed under the lock,
// the message is inserted, and the conversation's updated_at is bumped.
// Concurrent appends to the same conversation therefore serialize and can
// never produce duplicate or out-of-order sequence numbers.
//
// Returns ErrNotFound if the conversation does not exist, ErrInvalidRole or
// ErrEmptyContent on bad input.
func (s *Store) AppendMessage(ctx context.Context, conversationID uuid.UUID, role Role, content string) (*Message, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	// Without a pool (unit tests with a mock querier) run non-transactionally.
	if s.pool == nil {
		return s.appendMessageOn(ctx, s.q, conversationID, role, content)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", rbErr)
		}
	}()

	msg, err := s.appendMessageOn(ctx, tx, conversationID, role, content)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing message append: %w", err)
	}

	s.logger.Debug("appended message",
		"conversation_id", conversationID,
		"role", role,
		"sequence_number", msg.SequenceNumber)
	return msg, nil
}

// appendMessageOn performs the locked append steps on the given querier.
func (*Store) appendMessageOn(ctx context.Context, q querier, conversationID uuid.UUID, role Role, content string) (*Message, error) {
	// Lock the conversation row. Serializes concurrent appends and doubles
	// as the existence check.
	var lockedID uuid.UUID
	err := q.QueryRow(ctx,
		`SELECT id FROM conversations
		 WHERE id = $1 AND deleted_at IS NULL
		 FOR UPDATE`,
		conversationID,
	).Scan(&lockedID)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("locking conversation %s: %w", conversationID, err)
	}

	// Next sequence number under the lock.
	var nextSeq int64
	if err := q.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) + 1
		 FROM messages
		 WHERE conversation_id = $1`,
		conversationID,
	).Scan(&nextSeq); err != nil {
		return nil, fmt.Errorf("computing next sequence number: %w", err)
	}

	row := q.QueryRow(ctx,
		`INSERT INTO messages (conversation_id, sequence_number, role, content)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+messageCols,
		conversationID, nextSeq, string(role), content,
	)
	msg, err := scanMessage(row)
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	if _, err := q.Exec(ctx,
		`UPDATE conversations SET updated_at = now() WHERE id = $1`,
		conversationID,
	); err != nil {
		return nil, fmt.Errorf("bumping conversation updated_at: %w", err)
	}

	return msg, nil
}

// Messages retrieves messages for a conversation ordered by sequence number
// ascending. limit <= 0 means no limit.
func (s *Store) Messages(ctx context.Context, conversationID uuid.UUID, limit, offset int32) ([]*Message, error) {
	var rows pgx.Rows
	var err error

	if limit > 0 {
		rows, err = s.q.Query(ctx,
			`SELECT `+messageCols+`
			 FROM messages
			 WHERE conversation_id = $1 AND deleted_at IS NULL
			 ORDER BY sequence_number ASC
			 LIMIT $2 OFFSET $3`,
			conversationID, limit, offset,
		)
	} else {
		rows, err = s.q.Query(ctx,
			`SELECT `+messageCols+`
			 FROM messages
			 WHERE conversation_id = $1 AND deleted_at IS NULL
			 ORDER BY sequence_number ASC`,
			conversationID,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("listing messages for %s: %w", conversationID, err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	s.logger.Debug("retrieved messages", "conversation_id", conversationID, "count", len(msgs))
	return msgs, nil
}

// LastMessage returns the highest-sequence message of a conversation.
// Returns ErrNotFound when the conversation has no messages.
func (s *Store) LastMessage(ctx context.Context, conversationID uuid.UUID) (*Message, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+messageCols+`
		 FROM messages
		 WHERE conversation_id = $1 AND deleted_at IS NULL
		 ORDER BY sequence_number DESC
		 LIMIT 1`,
		conversationID,
	)

	msg, err := scanMessage(row)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, fmt.Errorf("conversation %s has no messages: %w", conversationID, ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("getting last message for %s: %w", conversationID, err)
	}
	return msg, nil
}

// scanConversation reads a Conversation from a pgx.Row (standard column set).
func scanConversation(row pgx.Row) (*Conversation, error) {
	c := &Conversation{}
	var scope string
	if err := row.Scan(&c.ID, &c.Title, &scope, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Scope = Scope(scope)
	return c, nil
}

// scanMessage reads a Message from a pgx.Row (standard column set).
func scanMessage(row pgx.Row) (*Message, error) {
	m := &Message{}
	var role string
	if err := row.Scan(&m.ID, &m.ConversationID, &m.SequenceNumber, &role, &m.Content, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Role = Role(role)
	return m, nil
}
