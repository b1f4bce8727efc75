package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var ErrNotFound = errors.New("conversation not found")

// Conversation is one browser-facing chat conversation. It owns at most
// one live voice session; VoiceSessionID tracks the remote identifier
// while one is active.
type Conversation struct {
	ID                string    `json:"conversation_id"`
	UserID            string    `json:"user_id"`
	Status            Status    `json:"status"`
	Voice             string    `json:"voice_id"`
	Language          string    `json:"language"`
	VoiceSessionID    string    `json:"voice_session_id,omitempty"`
	Degraded          bool      `json:"degraded"`
	InterruptionCount int       `json:"interruption_count"`
	StartedAt         time.Time `json:"started_at"`
	LastActivityAt    time.Time `json:"last_activity_at"`
}

type Manager struct {
	mu                sync.RWMutex
	conversations     map[string]*Conversation
	byUser            map[string]string
	inactivityTimeout time.Duration
	onExpire          func(*Conversation)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 2 * time.Minute
	}
	return &Manager{
		conversations:     make(map[string]*Conversation),
		byUser:            make(map[string]string),
		inactivityTimeout: inactivityTimeout,
	}
}

func (m *Manager) SetExpireHook(hook func(*Conversation)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) InactivityTimeout() time.Duration {
	return m.inactivityTimeout
}

func (m *Manager) Create(userID, voice, language string) *Conversation {
	now := time.Now().UTC()
	c := &Conversation{
		ID:             uuid.NewString(),
		UserID:         userID,
		Voice:          voice,
		Language:       language,
		Status:         StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[c.ID] = c
	if userID != "" {
		m.byUser[userID] = c.ID
	}
	return clone(c)
}

func (m *Manager) Get(conversationID string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(c), nil
}

func (m *Manager) Touch(conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	c.LastActivityAt = time.Now().UTC()
	return nil
}

// BindVoiceSession records the remote session identifier once the
// streaming transport acknowledges the session.
func (m *Manager) BindVoiceSession(conversationID, voiceSessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	c.VoiceSessionID = voiceSessionID
	c.LastActivityAt = time.Now().UTC()
	return nil
}

// Interrupt records a barge-in: the user started talking while the
// assistant was still speaking.
func (m *Manager) Interrupt(conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	c.InterruptionCount++
	c.LastActivityAt = time.Now().UTC()
	return nil
}

// MarkDegraded records the one-way downgrade to request/response
// recognition.
func (m *Manager) MarkDegraded(conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	c.Degraded = true
	c.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) End(conversationID string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	c.Status = StatusEnded
	c.VoiceSessionID = ""
	c.LastActivityAt = time.Now().UTC()
	if c.UserID != "" {
		delete(m.byUser, c.UserID)
	}
	return clone(c), nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, c := range m.conversations {
		if c.Status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Conversation

	m.mu.Lock()
	for _, c := range m.conversations {
		if c.Status != StatusActive {
			continue
		}
		if now.Sub(c.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		c.Status = StatusEnded
		c.VoiceSessionID = ""
		c.LastActivityAt = now
		expired = append(expired, clone(c))
		if c.UserID != "" {
			delete(m.byUser, c.UserID)
		}
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, c := range expired {
			hook(c)
		}
	}
}

func clone(c *Conversation) *Conversation {
	out := *c
	return &out
}
