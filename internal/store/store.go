package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("record not found")

type Store struct {
	DB *sql.DB
}

// NewWithDSN opens a Postgres connection pool and verifies connectivity.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

type User struct {
	ID       int64
	Username string
	Email    string
	IsAdmin  bool
}

// Session is one complete video-processing outcome. Immutable once persisted
// except for appended conversation turns.
type Session struct {
	ID                  string
	UserID              int64
	Title               string
	Remote              bool
	VideoPath           string // local media file, empty for pure remote refs
	RemoteID            string // hosting-service id, empty for uploads
	Transcript          string
	ReferenceTranscript string
	Language            string
	Summary             string
	CreatedAt           time.Time
}

// SessionSummary is a history listing row.
type SessionSummary struct {
	ID        string
	Title     string
	Remote    bool
	RemoteID  string
	VideoPath string
	Turns     int64
	CreatedAt time.Time
}

type Conversation struct {
	ID        int64
	SessionID string
	Question  string
	Answer    string
	CreatedAt time.Time
}

type ContactMessage struct {
	ID        int64
	Name      string
	Email     string
	Message   string
	Read      bool
	CreatedAt time.Time
}

type Stats struct {
	Users     int64
	Sessions  int64
	Questions int64
}

// User operations
func (s *Store) CreateUser(ctx context.Context, username, email, hash string) (int64, error) {
	var id int64
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO users (username, email, password_hash) VALUES ($1,$2,$3) RETURNING id`,
		username, email, hash).Scan(&id)
	return id, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (User, string, error) {
	var u User
	var hash string
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, is_admin FROM users WHERE email=$1`,
		email).Scan(&u.ID, &u.Username, &u.Email, &hash, &u.IsAdmin)
	if err == sql.ErrNoRows {
		return User{}, "", ErrNotFound
	}
	return u, hash, err
}

func (s *Store) GetUserByID(ctx context.Context, id int64) (User, error) {
	var u User
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, username, email, is_admin FROM users WHERE id=$1`,
		id).Scan(&u.ID, &u.Username, &u.Email, &u.IsAdmin)
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	return u, err
}

// GetUserPasswordHash returns the stored bcrypt hash for a user.
func (s *Store) GetUserPasswordHash(ctx context.Context, id int64) (string, error) {
	var hash string
	err := s.DB.QueryRowContext(ctx, `SELECT password_hash FROM users WHERE id=$1`, id).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return hash, err
}

func (s *Store) UpdateUserProfile(ctx context.Context, id int64, username, email string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE users SET username=$1, email=$2 WHERE id=$3`, username, email, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, id int64, hash string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE users SET password_hash=$1 WHERE id=$2`, hash, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// IsAdmin reports whether the user has the admin flag set.
func (s *Store) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	var admin bool
	err := s.DB.QueryRowContext(ctx, `SELECT is_admin FROM users WHERE id=$1`, userID).Scan(&admin)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return admin, err
}

// Session operations
func (s *Store) CreateSession(ctx context.Context, sess Session) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO sessions (id, user_id, title, is_remote, video_path, remote_id, transcript, reference_transcript, language, summary)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		sess.ID, sess.UserID, sess.Title, sess.Remote, sess.VideoPath, sess.RemoteID,
		sess.Transcript, sess.ReferenceTranscript, sess.Language, sess.Summary)
	return err
}

func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	var sess Session
	err := s.DB.QueryRowContext(ctx, `
SELECT id, user_id, title, is_remote, video_path, remote_id, transcript, reference_transcript, language, summary, created_at
FROM sessions WHERE id=$1`, id).Scan(
		&sess.ID, &sess.UserID, &sess.Title, &sess.Remote, &sess.VideoPath, &sess.RemoteID,
		&sess.Transcript, &sess.ReferenceTranscript, &sess.Language, &sess.Summary, &sess.CreatedAt)
	if err == sql.ErrNoRows {
		return Session{}, ErrNotFound
	}
	return sess, err
}

// ListSessions returns the user's history, newest first, with turn counts.
func (s *Store) ListSessions(ctx context.Context, userID int64) ([]SessionSummary, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT s.id, s.title, s.is_remote, s.remote_id, s.video_path, s.created_at, COUNT(c.id)
FROM sessions s
LEFT JOIN conversations c ON s.id = c.session_id
WHERE s.user_id=$1
GROUP BY s.id
ORDER BY s.created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.Remote, &sum.RemoteID, &sum.VideoPath, &sum.CreatedAt, &sum.Turns); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and, through the FK cascade, its
// conversation turns. Local media cleanup is the caller's responsibility.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM sessions WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListLocalMediaPaths returns every locally stored media file still
// referenced by a session. Used by the janitor to spot orphans.
func (s *Store) ListLocalMediaPaths(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT video_path FROM sessions WHERE video_path <> ''`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Conversation operations
func (s *Store) AddConversation(ctx context.Context, sessionID, question, answer string) (Conversation, error) {
	conv := Conversation{SessionID: sessionID, Question: question, Answer: answer}
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO conversations (session_id, question, answer) VALUES ($1,$2,$3)
RETURNING id, created_at`, sessionID, question, answer).Scan(&conv.ID, &conv.CreatedAt)
	return conv, err
}

func (s *Store) ListConversations(ctx context.Context, sessionID string) ([]Conversation, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, session_id, question, answer, created_at
FROM conversations WHERE session_id=$1 ORDER BY created_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.SessionID, &c.Question, &c.Answer, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Contact operations
func (s *Store) CreateContactMessage(ctx context.Context, name, email, message string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO contact_messages (name, email, message) VALUES ($1,$2,$3)`,
		name, email, message)
	return err
}

func (s *Store) ListContactMessages(ctx context.Context) ([]ContactMessage, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, name, email, message, is_read, created_at
FROM contact_messages ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ContactMessage
	for rows.Next() {
		var m ContactMessage
		if err := rows.Scan(&m.ID, &m.Name, &m.Email, &m.Message, &m.Read, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) MarkContactMessageRead(ctx context.Context, id int64) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE contact_messages SET is_read=TRUE WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteContactMessage(ctx context.Context, id int64) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM contact_messages WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// AdminStats aggregates platform-wide counters for the admin dashboard.
func (s *Store) AdminStats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.DB.QueryRowContext(ctx, `
SELECT
  (SELECT COUNT(*) FROM users),
  (SELECT COUNT(*) FROM sessions),
  (SELECT COUNT(*) FROM conversations)`).Scan(&st.Users, &st.Sessions, &st.Questions)
	return st, err
}
