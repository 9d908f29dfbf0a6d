package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/domain"
	"github.com/isaacberry91/propswipes-sub000/pkg/log"
)

// CassandraConfig selects the cluster backing the Cassandra message store.
type CassandraConfig struct {
	Hosts          []string      `mapstructure:"hosts"`
	Keyspace       string        `mapstructure:"keyspace"`
	Consistency    string        `mapstructure:"consistency"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// Schema:
//
//	CREATE TABLE messages_by_match (
//	    match_id text, created_at timestamp, message_id text,
//	    sender_id text, content text,
//	    attachment_url text, attachment_type text, attachment_name text, attachment_key text,
//	    is_voice_note boolean, duration_seconds int, deleted_at timestamp,
//	    PRIMARY KEY ((match_id), created_at, message_id)
//	) WITH CLUSTERING ORDER BY (created_at ASC, message_id ASC);
//
//	CREATE TABLE messages_by_id (
//	    message_id text PRIMARY KEY, match_id text, created_at timestamp, sender_id text
//	);

// CassandraMessageRepository implements MessageRepository on Cassandra.
type CassandraMessageRepository struct {
	session *gocql.Session
}

// NewCassandraMessageRepository connects to the cluster.
func NewCassandraMessageRepository(cfg CassandraConfig) (*CassandraMessageRepository, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace
	if cfg.ConnectTimeout > 0 {
		cluster.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.Timeout > 0 {
		cluster.Timeout = cfg.Timeout
	}
	cluster.Consistency = ParseConsistency(cfg.Consistency)

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create cassandra session: %w", err)
	}

	return &CassandraMessageRepository{session: session}, nil
}

// ParseConsistency maps a config value to a gocql consistency, defaulting
// to LOCAL_ONE.
func ParseConsistency(s string) gocql.Consistency {
	switch s {
	case "LOCAL_QUORUM":
		return gocql.LocalQuorum
	case "ONE":
		return gocql.One
	case "QUORUM":
		return gocql.Quorum
	case "ALL":
		return gocql.All
	default:
		return gocql.LocalOne
	}
}

func (r *CassandraMessageRepository) FetchMessages(ctx context.Context, matchID string) ([]domain.Message, error) {
	iter := r.session.Query(
		`SELECT message_id, sender_id, content, attachment_url, attachment_type, attachment_name,
		        attachment_key, is_voice_note, duration_seconds, created_at, deleted_at
		 FROM messages_by_match
		 WHERE match_id = ?`,
		matchID,
	).WithContext(ctx).Iter()

	var (
		messages []domain.Message
		row      cassandraRow
	)
	for iter.Scan(
		&row.id,
		&row.senderID,
		&row.content,
		&row.attURL,
		&row.attType,
		&row.attName,
		&row.attKey,
		&row.isVoiceNote,
		&row.duration,
		&row.createdAt,
		&row.deletedAt,
	) {
		if row.deletedAt.IsZero() {
			messages = append(messages, row.toDomain(matchID))
		}
		row = cassandraRow{}
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}

// InsertMessage writes both tables in a logged batch. Cassandra inserts are
// upserts, so re-inserting the same message is harmless.
func (r *CassandraMessageRepository) InsertMessage(ctx context.Context, msg domain.NewMessage) (*domain.Message, error) {
	l := log.Ctx(ctx)

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	// Cassandra timestamps have millisecond precision.
	msg.CreatedAt = msg.CreatedAt.Truncate(time.Millisecond)

	var (
		url, typ, name, key string
		voice               bool
		duration            int
	)
	if att := msg.Attachment; att != nil {
		url, typ, name, key = att.URL, att.Type, att.Name, att.Key
		voice, duration = att.IsVoiceNote, att.DurationSeconds
	}

	batch := r.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(
		`INSERT INTO messages_by_match (match_id, created_at, message_id, sender_id, content,
		    attachment_url, attachment_type, attachment_name, attachment_key, is_voice_note, duration_seconds)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.MatchID, msg.CreatedAt, msg.ID, msg.SenderID, msg.Content,
		url, typ, name, key, voice, duration,
	)
	batch.Query(
		`INSERT INTO messages_by_id (message_id, match_id, created_at, sender_id) VALUES (?, ?, ?, ?)`,
		msg.ID, msg.MatchID, msg.CreatedAt, msg.SenderID,
	)
	if err := r.session.ExecuteBatch(batch); err != nil {
		l.Error().Err(err).Str(log.FieldMessageID, msg.ID).Msg("failed to insert message in cassandra")
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	out := &domain.Message{
		ID:        msg.ID,
		MatchID:   msg.MatchID,
		SenderID:  msg.SenderID,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
		Status:    domain.StatusSent,
	}
	if msg.Attachment != nil {
		att := *msg.Attachment
		out.Attachment = &att
	}
	return out, nil
}

func (r *CassandraMessageRepository) SoftDeleteMessage(ctx context.Context, id, senderID string) error {
	var (
		matchID, owner string
		createdAt      time.Time
	)
	err := r.session.Query(
		`SELECT match_id, created_at, sender_id FROM messages_by_id WHERE message_id = ?`, id,
	).WithContext(ctx).Scan(&matchID, &createdAt, &owner)
	if err != nil {
		if err == gocql.ErrNotFound {
			return domain.ErrMessageNotFound
		}
		return fmt.Errorf("failed to load message: %w", err)
	}
	if owner != senderID {
		return domain.ErrNotOwner
	}

	if err := r.session.Query(
		`UPDATE messages_by_match SET deleted_at = ? WHERE match_id = ? AND created_at = ? AND message_id = ?`,
		time.Now().UTC(), matchID, createdAt, id,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("failed to soft-delete message: %w", err)
	}
	return nil
}

func (r *CassandraMessageRepository) Close() error {
	r.session.Close()
	return nil
}

type cassandraRow struct {
	id, senderID, content            string
	attURL, attType, attName, attKey string
	isVoiceNote                      bool
	duration                         int
	createdAt, deletedAt             time.Time
}

func (row cassandraRow) toDomain(matchID string) domain.Message {
	msg := domain.Message{
		ID:        row.id,
		MatchID:   matchID,
		SenderID:  row.senderID,
		Content:   row.content,
		CreatedAt: row.createdAt,
		Status:    domain.StatusSent,
	}
	if row.attURL != "" || row.attKey != "" {
		msg.Attachment = &domain.Attachment{
			URL:         row.attURL,
			Type:        row.attType,
			Name:        row.attName,
			Key:         row.attKey,
			IsVoiceNote: row.isVoiceNote,
		}
		if row.isVoiceNote {
			msg.Attachment.DurationSeconds = row.duration
		}
	}
	return msg
}

var _ MessageRepository = (*CassandraMessageRepository)(nil)
