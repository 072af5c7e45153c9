package server

import "time"

// HTTPError is the JSON error envelope produced by the unified error handler.
type HTTPError struct {
	Error string `json:"error"`
}

type AuthSignupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type ProfileUpdateRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

type PasswordChangeRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type UserResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	IsAdmin  bool   `json:"is_admin"`
}

type ProcessResponse struct {
	SessionID string `json:"session_id"`
}

type AskRequest struct {
	Question string `json:"question"`
}

type ConversationResponse struct {
	ID        int64     `json:"id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionResponse is the full processing outcome for one video.
type SessionResponse struct {
	ID            string                 `json:"id"`
	Title         string                 `json:"title"`
	Summary       string                 `json:"summary"`
	Transcript    string                 `json:"transcript"`
	Language      string                 `json:"language"`
	Remote        bool                   `json:"remote"`
	VideoURL      string                 `json:"video_url"`
	CreatedAt     time.Time              `json:"created_at"`
	Conversations []ConversationResponse `json:"conversations"`
}

// HistoryItem is one row of a user's processing history.
type HistoryItem struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Remote    bool      `json:"remote"`
	VideoURL  string    `json:"video_url"`
	Turns     int64     `json:"turns"`
	CreatedAt time.Time `json:"created_at"`
}

type ContactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

type ContactMessageResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

type StatsResponse struct {
	Users     int64 `json:"users"`
	Sessions  int64 `json:"sessions"`
	Questions int64 `json:"questions"`
}
