package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/D1992S/bieznia-sub002/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Sentinel errors surfaced by the conversation store; the engine wraps them
// into its typed error taxonomy.
var (
	ErrThreadNotFound        = errors.New("thread not found")
	ErrThreadChannelMismatch = errors.New("thread belongs to a different channel")
)

const schema = `
CREATE TABLE IF NOT EXISTS channels (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    subscriber_count INTEGER NOT NULL DEFAULT 0,
    total_views INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS videos (
    id TEXT PRIMARY KEY,
    channel_id TEXT NOT NULL,
    title TEXT NOT NULL,
    view_count INTEGER NOT NULL DEFAULT 0,
    like_count INTEGER NOT NULL DEFAULT 0,
    published_at TEXT NOT NULL,
    FOREIGN KEY (channel_id) REFERENCES channels(id)
);

CREATE TABLE IF NOT EXISTS channel_metrics (
    channel_id TEXT NOT NULL,
    date TEXT NOT NULL,
    views INTEGER NOT NULL DEFAULT 0,
    subscribers INTEGER NOT NULL DEFAULT 0,
    engagement_rate REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (channel_id, date)
);

CREATE TABLE IF NOT EXISTS ml_anomalies (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    channel_id TEXT NOT NULL,
    metric TEXT NOT NULL,
    date TEXT NOT NULL,
    severity TEXT NOT NULL,
    description TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS threads (
    id TEXT PRIMARY KEY,
    channel_id TEXT NOT NULL,
    title TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    thread_id TEXT NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    confidence TEXT,
    follow_ups TEXT NOT NULL DEFAULT '[]',
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY (thread_id) REFERENCES threads(id)
);

CREATE TABLE IF NOT EXISTS evidence (
    id TEXT NOT NULL,
    message_id INTEGER NOT NULL,
    tool TEXT NOT NULL,
    label TEXT NOT NULL,
    value TEXT NOT NULL,
    source_table TEXT NOT NULL,
    source_record_id TEXT NOT NULL,
    pos INTEGER NOT NULL,
    FOREIGN KEY (message_id) REFERENCES messages(id)
);

CREATE INDEX IF NOT EXISTS idx_videos_channel ON videos(channel_id);
CREATE INDEX IF NOT EXISTS idx_metrics_channel_date ON channel_metrics(channel_id, date);
CREATE INDEX IF NOT EXISTS idx_anomalies_lookup ON ml_anomalies(channel_id, metric, date);
CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id);
CREATE INDEX IF NOT EXISTS idx_evidence_message ON evidence(message_id);`

type Database struct {
	db *sql.DB
}

func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// One connection: the engine is single-writer, and this keeps an
	// in-memory database from fragmenting across pooled connections.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		return nil, err
	}

	return &Database{db: db}, nil
}

// DB exposes the underlying handle for collaborators that run their own
// read-only queries, such as the metrics facade.
func (d *Database) DB() *sql.DB {
	return d.db
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) GetChannel(channelID string) (*models.Channel, error) {
	query := `
        SELECT id, name, subscriber_count, total_views
        FROM channels
        WHERE id = ?`

	var ch models.Channel
	err := d.db.QueryRow(query, channelID).Scan(&ch.ID, &ch.Name, &ch.SubscriberCount, &ch.TotalViews)
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

func (d *Database) GetTopVideos(channelID string, limit int) ([]models.Video, error) {
	query := `
        SELECT id, channel_id, title, view_count, like_count, published_at
        FROM videos
        WHERE channel_id = ?
        ORDER BY view_count DESC, like_count DESC, published_at DESC, id ASC
        LIMIT ?`

	rows, err := d.db.Query(query, channelID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	videos := make([]models.Video, 0)
	for rows.Next() {
		var v models.Video
		if err := rows.Scan(&v.ID, &v.ChannelID, &v.Title, &v.ViewCount, &v.LikeCount, &v.PublishedAt); err != nil {
			return nil, err
		}
		videos = append(videos, v)
	}
	return videos, rows.Err()
}

func (d *Database) GetAnomalies(channelID, metric, dateFrom, dateTo string, limit int) ([]models.Anomaly, error) {
	query := `
        SELECT id, channel_id, metric, date, severity, description
        FROM ml_anomalies
        WHERE channel_id = ? AND metric = ? AND date BETWEEN ? AND ?
        ORDER BY date DESC, id DESC
        LIMIT ?`

	rows, err := d.db.Query(query, channelID, metric, dateFrom, dateTo, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	anomalies := make([]models.Anomaly, 0)
	for rows.Next() {
		var a models.Anomaly
		if err := rows.Scan(&a.ID, &a.ChannelID, &a.Metric, &a.Date, &a.Severity, &a.Description); err != nil {
			return nil, err
		}
		anomalies = append(anomalies, a)
	}
	return anomalies, rows.Err()
}

// AskCommit carries everything one ask exchange writes: the thread row, the
// user/assistant message pair and the assistant's evidence.
type AskCommit struct {
	ThreadID   string
	ChannelID  string
	Title      string
	Question   string
	Answer     string
	Confidence string
	FollowUps  []string
	Evidence   []models.EvidenceItem
	Now        time.Time
}

// CommitAsk persists one exchange as a single transaction. The channel guard
// runs before any write, so a mismatch leaves the store untouched; any later
// failure rolls back the whole exchange.
func (d *Database) CommitAsk(c AskCommit) (int64, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var existingChannel string
	err = tx.QueryRow("SELECT channel_id FROM threads WHERE id = ?", c.ThreadID).Scan(&existingChannel)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.Exec(`
            INSERT INTO threads (id, channel_id, title, created_at, updated_at)
            VALUES (?, ?, ?, ?, ?)`,
			c.ThreadID, c.ChannelID, c.Title, c.Now, c.Now)
		if err != nil {
			return 0, fmt.Errorf("failed to insert thread: %w", err)
		}
	case err != nil:
		return 0, err
	case existingChannel != c.ChannelID:
		return 0, ErrThreadChannelMismatch
	}

	_, err = tx.Exec(`
        INSERT INTO messages (thread_id, role, content, confidence, follow_ups, created_at)
        VALUES (?, ?, ?, NULL, '[]', ?)`,
		c.ThreadID, models.RoleUser, c.Question, c.Now)
	if err != nil {
		return 0, fmt.Errorf("failed to insert user message: %w", err)
	}

	followUps, err := json.Marshal(c.FollowUps)
	if err != nil {
		return 0, err
	}

	var assistantID int64
	err = tx.QueryRow(`
        INSERT INTO messages (thread_id, role, content, confidence, follow_ups, created_at)
        VALUES (?, ?, ?, ?, ?, ?)
        RETURNING id`,
		c.ThreadID, models.RoleAssistant, c.Answer, c.Confidence, string(followUps), c.Now).Scan(&assistantID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert assistant message: %w", err)
	}

	for i, ev := range c.Evidence {
		_, err = tx.Exec(`
            INSERT INTO evidence (id, message_id, tool, label, value, source_table, source_record_id, pos)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			ev.EvidenceID, assistantID, ev.Tool, ev.Label, ev.Value, ev.SourceTable, ev.SourceRecordID, i)
		if err != nil {
			return 0, fmt.Errorf("failed to insert evidence: %w", err)
		}
	}

	if _, err := tx.Exec("UPDATE threads SET updated_at = ? WHERE id = ?", c.Now, c.ThreadID); err != nil {
		return 0, fmt.Errorf("failed to touch thread: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return assistantID, nil
}

func (d *Database) ListThreads(channelID string, limit int) ([]models.ThreadSummary, error) {
	query := `
        SELECT t.id, t.channel_id, t.title, t.created_at, t.updated_at,
               (SELECT m.content FROM messages m
                WHERE m.thread_id = t.id AND m.role = ?
                ORDER BY m.id DESC LIMIT 1)
        FROM threads t`
	args := []any{models.RoleUser}
	if channelID != "" {
		query += " WHERE t.channel_id = ?"
		args = append(args, channelID)
	}
	query += " ORDER BY t.updated_at DESC, t.id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]models.ThreadSummary, 0)
	for rows.Next() {
		var item models.ThreadSummary
		var last sql.NullString
		if err := rows.Scan(&item.ThreadID, &item.ChannelID, &item.Title, &item.CreatedAt, &item.UpdatedAt, &last); err != nil {
			return nil, err
		}
		if last.Valid {
			item.LastQuestion = &last.String
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetThreadMessages returns the thread header plus all messages ordered by
// id, each carrying its evidence in insertion order.
func (d *Database) GetThreadMessages(threadID string) (*models.Thread, []models.Message, error) {
	var thread models.Thread
	err := d.db.QueryRow(`
        SELECT id, channel_id, title, created_at, updated_at
        FROM threads
        WHERE id = ?`, threadID).
		Scan(&thread.ID, &thread.ChannelID, &thread.Title, &thread.CreatedAt, &thread.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrThreadNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	rows, err := d.db.Query(`
        SELECT id, thread_id, role, content, confidence, follow_ups, created_at
        FROM messages
        WHERE thread_id = ?
        ORDER BY id ASC`, threadID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	index := make(map[int64]int)
	for rows.Next() {
		var msg models.Message
		var confidence sql.NullString
		var followUps string
		if err := rows.Scan(&msg.ID, &msg.ThreadID, &msg.Role, &msg.Text, &confidence, &followUps, &msg.CreatedAt); err != nil {
			return nil, nil, err
		}
		if confidence.Valid {
			msg.Confidence = confidence.String
		}
		if err := json.Unmarshal([]byte(followUps), &msg.FollowUpQuestions); err != nil {
			return nil, nil, fmt.Errorf("failed to decode follow-ups for message %d: %w", msg.ID, err)
		}
		msg.Evidence = make([]models.EvidenceItem, 0)
		index[msg.ID] = len(messages)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	evRows, err := d.db.Query(`
        SELECT e.id, e.message_id, e.tool, e.label, e.value, e.source_table, e.source_record_id
        FROM evidence e
        JOIN messages m ON e.message_id = m.id
        WHERE m.thread_id = ?
        ORDER BY e.message_id ASC, e.pos ASC`, threadID)
	if err != nil {
		return nil, nil, err
	}
	defer evRows.Close()

	for evRows.Next() {
		var ev models.EvidenceItem
		var messageID int64
		if err := evRows.Scan(&ev.EvidenceID, &messageID, &ev.Tool, &ev.Label, &ev.Value, &ev.SourceTable, &ev.SourceRecordID); err != nil {
			return nil, nil, err
		}
		if i, ok := index[messageID]; ok {
			messages[i].Evidence = append(messages[i].Evidence, ev)
		}
	}
	return &thread, messages, evRows.Err()
}
