package storage

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"avatar_space/network"
)

// ChatStore keeps relay chat in sqlite so it survives restarts.
type ChatStore struct {
	DB *sql.DB
}

func Open(path string) (*ChatStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer; the relay rooms share the handle.
	db.SetMaxOpenConns(1)

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS chat (
		id TEXT PRIMARY KEY,
		room TEXT NOT NULL,
		sender_id TEXT,
		sender_name TEXT,
		text TEXT,
		sent_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS chat_room_sent ON chat (room, sent_at);
	`
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create chat table: %w", err)
	}
	log.Println("SQLite chat history initialized.")
	return &ChatStore{DB: db}, nil
}

func (s *ChatStore) SaveChat(room string, m network.ChatMessage) error {
	query := `
	INSERT INTO chat (id, room, sender_id, sender_name, text, sent_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		text = excluded.text;
	`
	_, err := s.DB.Exec(query, m.ID, room, m.SenderID, m.SenderName, m.Text, m.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("save chat %s: %w", m.ID, err)
	}
	return nil
}

// RecentChat returns the newest limit messages of room, oldest first.
func (s *ChatStore) RecentChat(room string, limit int) ([]network.ChatMessage, error) {
	rows, err := s.DB.Query(`
	SELECT id, sender_id, sender_name, text, sent_at FROM (
		SELECT id, sender_id, sender_name, text, sent_at, rowid AS seq FROM chat
		WHERE room = ? ORDER BY sent_at DESC, seq DESC LIMIT ?
	) ORDER BY sent_at ASC, seq ASC`, room, limit)
	if err != nil {
		return nil, fmt.Errorf("load chat for %s: %w", room, err)
	}
	defer rows.Close()

	var out []network.ChatMessage
	for rows.Next() {
		var m network.ChatMessage
		var sentAt int64
		if err := rows.Scan(&m.ID, &m.SenderID, &m.SenderName, &m.Text, &sentAt); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		m.Timestamp = time.Unix(0, sentAt).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *ChatStore) Close() error {
	return s.DB.Close()
}
