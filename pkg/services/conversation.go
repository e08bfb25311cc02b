package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/rotosaurio/iacandy/pkg/apperrors"
	"github.com/rotosaurio/iacandy/pkg/models"
)

const (
	defaultMaxTurns   = 10
	defaultSessionTTL = 24 * time.Hour
	defaultMaxTurnAge = 2 * time.Hour
)

// ConversationStoreConfig bounds per-session history.
type ConversationStoreConfig struct {
	MaxTurns   int
	SessionTTL time.Duration
	// MaxTurnAge hides older turns from Recent. Zero disables the age check.
	MaxTurnAge time.Duration
	Clock      clockwork.Clock
}

type conversation struct {
	mu        sync.Mutex
	id        string
	startedAt time.Time
	turns     []models.ConversationTurn
}

// ConversationStore keeps a short rolling history per session. Sessions idle
// for longer than SessionTTL are evicted.
type ConversationStore struct {
	sessions  *ttlcache.Cache[string, *conversation]
	config    ConversationStoreConfig
	clock     clockwork.Clock
	logger    *zap.Logger
	closeOnce sync.Once
}

// NewConversationStore creates a store and starts its eviction loop. Call
// Close to stop it.
func NewConversationStore(config ConversationStoreConfig, logger *zap.Logger) *ConversationStore {
	if config.MaxTurns <= 0 {
		config.MaxTurns = defaultMaxTurns
	}
	if config.SessionTTL <= 0 {
		config.SessionTTL = defaultSessionTTL
	}
	if config.MaxTurnAge < 0 {
		config.MaxTurnAge = defaultMaxTurnAge
	}
	clock := config.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	s := &ConversationStore{
		sessions: ttlcache.New(
			ttlcache.WithTTL[string, *conversation](config.SessionTTL),
		),
		config: config,
		clock:  clock,
		logger: logger.Named("conversation"),
	}
	s.sessions.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *conversation]) {
		if reason == ttlcache.EvictionReasonExpired {
			s.logger.Debug("Session expired", zap.String("session_id", item.Key()))
		}
	})
	go s.sessions.Start()
	return s
}

// Close stops the eviction loop.
func (s *ConversationStore) Close() {
	s.closeOnce.Do(s.sessions.Stop)
}

// Start opens a new session and returns its id.
func (s *ConversationStore) Start() string {
	id := uuid.NewString()
	s.sessions.Set(id, s.newConversation(id), ttlcache.DefaultTTL)
	s.logger.Debug("Session started", zap.String("session_id", id))
	return id
}

// Ensure returns id unchanged when the session exists, re-opens it when it was
// evicted, and starts a new session when id is empty.
func (s *ConversationStore) Ensure(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return s.Start()
	}
	s.sessions.GetOrSet(id, s.newConversation(id))
	return id
}

func (s *ConversationStore) newConversation(id string) *conversation {
	return &conversation{id: id, startedAt: s.clock.Now()}
}

func (s *ConversationStore) get(id string) (*conversation, error) {
	item := s.sessions.Get(id)
	if item == nil {
		return nil, fmt.Errorf("session %q: %w", id, apperrors.ErrSessionNotFound)
	}
	return item.Value(), nil
}

// Append records a turn, evicting the oldest once the session holds MaxTurns.
// A zero Timestamp is set to now.
func (s *ConversationStore) Append(id string, turn models.ConversationTurn) error {
	c, err := s.get(id)
	if err != nil {
		return err
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = s.clock.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.turns) >= s.config.MaxTurns {
		drop := len(c.turns) - s.config.MaxTurns + 1
		c.turns = append(c.turns[:0:0], c.turns[drop:]...)
	}
	c.turns = append(c.turns, turn)
	return nil
}

// Recent returns up to n of the latest turns younger than MaxTurnAge, oldest
// first. Unknown sessions have no history.
func (s *ConversationStore) Recent(id string, n int) []models.ConversationTurn {
	if n <= 0 {
		return nil
	}
	c, err := s.get(id)
	if err != nil {
		return nil
	}

	now := s.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	var fresh []models.ConversationTurn
	for _, t := range c.turns {
		if s.config.MaxTurnAge > 0 && now.Sub(t.Timestamp) > s.config.MaxTurnAge {
			continue
		}
		fresh = append(fresh, t)
	}
	if len(fresh) > n {
		fresh = fresh[len(fresh)-n:]
	}
	return fresh
}

// Turns returns every stored turn of a session, oldest first.
func (s *ConversationStore) Turns(id string) ([]models.ConversationTurn, error) {
	c, err := s.get(id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.ConversationTurn(nil), c.turns...), nil
}

// Summary describes a session without its turns.
func (s *ConversationStore) Summary(id string) (*models.ConversationSummary, error) {
	c, err := s.get(id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	summary := &models.ConversationSummary{
		SessionID: c.id,
		TurnCount: len(c.turns),
		StartedAt: c.startedAt,
	}
	if len(c.turns) > 0 {
		last := c.turns[len(c.turns)-1].Timestamp
		summary.LastActivity = &last
	}
	return summary, nil
}

// Len returns the number of live sessions.
func (s *ConversationStore) Len() int {
	return s.sessions.Len()
}
