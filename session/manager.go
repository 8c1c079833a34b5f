package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/room4-2/iacfarm/config"
	"github.com/room4-2/iacfarm/logger"
	"github.com/room4-2/iacfarm/metrics"
)

// ErrTooManySessions is returned when MaxSessions clients are connected.
var ErrTooManySessions = errors.New("maximum sessions reached")

const activeSessionsKey = "active_sessions"

// Manager manages all client sessions
type Manager struct {
	sessions map[string]*ClientSession
	mu       sync.RWMutex
	redis    *redis.Client
	config   *config.Config
	services Services
	log      *zap.Logger
}

// NewManager creates a session manager. Redis mirrors session presence for
// other processes; when it is not configured or not reachable the manager
// runs in memory only.
func NewManager(cfg *config.Config, svc Services, log *zap.Logger) (*Manager, error) {
	if svc.Inference == nil {
		return nil, errors.New("session manager: no inference backend")
	}
	log = logger.OrNop(log)

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       0,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn("redis_unavailable_running_in_memory", zap.String("addr", cfg.RedisURL), zap.Error(err))
			_ = redisClient.Close()
			redisClient = nil
		}
	}

	return &Manager{
		sessions: make(map[string]*ClientSession),
		redis:    redisClient,
		config:   cfg,
		services: svc,
		log:      log,
	}, nil
}

// CreateSession creates a new client session
func (sm *Manager) CreateSession(ctx context.Context, clientConn *websocket.Conn) (*ClientSession, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if len(sm.sessions) >= sm.config.MaxSessions {
		return nil, ErrTooManySessions
	}

	sessionID := uuid.NewString()
	session, err := NewClientSession(ctx, sessionID, clientConn, sm.config, sm.services, sm.log)
	if err != nil {
		return nil, err
	}

	sm.storeSession(ctx, session)
	sm.log.Info("session_created", zap.String("session", logger.ShortID(sessionID)), zap.Int("active", len(sm.sessions)))
	return session, nil
}

// storeSession saves a session to memory and Redis. Callers hold mu.
func (sm *Manager) storeSession(ctx context.Context, session *ClientSession) {
	sm.sessions[session.ID] = session
	metrics.ActiveSessions.Set(float64(len(sm.sessions)))

	if sm.redis == nil {
		return
	}
	key := "session:" + session.ID
	pipe := sm.redis.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"created_at":    session.CreatedAt.Format(time.RFC3339),
		"last_activity": session.LastActivity().Format(time.RFC3339),
		"status":        "active",
	})
	pipe.SAdd(ctx, activeSessionsKey, session.ID)
	pipe.Expire(ctx, key, sm.config.SessionTimeout)
	if _, err := pipe.Exec(ctx); err != nil {
		sm.log.Warn("redis_store_session_failed", zap.String("session", logger.ShortID(session.ID)), zap.Error(err))
	}
}

// forget drops a session from memory and Redis. Callers hold mu.
func (sm *Manager) forget(ctx context.Context, id string) {
	delete(sm.sessions, id)
	metrics.ActiveSessions.Set(float64(len(sm.sessions)))

	if sm.redis == nil {
		return
	}
	pipe := sm.redis.TxPipeline()
	pipe.Del(ctx, "session:"+id)
	pipe.SRem(ctx, activeSessionsKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		sm.log.Warn("redis_remove_session_failed", zap.String("session", logger.ShortID(id)), zap.Error(err))
	}
}

// GetSession retrieves a session by ID
func (sm *Manager) GetSession(sessionID string) (*ClientSession, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, exists := sm.sessions[sessionID]
	return session, exists
}

// RemoveSession cleans up and removes a session
func (sm *Manager) RemoveSession(ctx context.Context, sessionID string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	session, exists := sm.sessions[sessionID]
	if !exists {
		return nil
	}

	session.Close()
	sm.forget(ctx, sessionID)
	return nil
}

// GetActiveSessionCount returns current session count
func (sm *Manager) GetActiveSessionCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// CleanupInactiveSessions closes sessions idle longer than SessionTimeout
// and renews the Redis lease of the rest.
func (sm *Manager) CleanupInactiveSessions(ctx context.Context) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := time.Now()
	for id, session := range sm.sessions {
		last := session.LastActivity()
		if now.Sub(last) > sm.config.SessionTimeout {
			sm.log.Info("session_expired", zap.String("session", logger.ShortID(id)), zap.Duration("idle", now.Sub(last)))
			session.Close()
			sm.forget(ctx, id)
			continue
		}
		if sm.redis != nil {
			key := "session:" + id
			sm.redis.HSet(ctx, key, "last_activity", last.Format(time.RFC3339))
			sm.redis.Expire(ctx, key, sm.config.SessionTimeout)
		}
	}
}

// StartCleanupRoutine starts periodic cleanup of inactive sessions
func (sm *Manager) StartCleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sm.CleanupInactiveSessions(ctx)
		}
	}
}

// Shutdown closes all sessions and waits for their background work
func (sm *Manager) Shutdown() {
	sm.mu.Lock()
	closing := make([]*ClientSession, 0, len(sm.sessions))
	for id, session := range sm.sessions {
		session.Close()
		closing = append(closing, session)
		sm.forget(context.Background(), id)
	}
	sm.mu.Unlock()

	for _, session := range closing {
		session.Drain()
	}

	if sm.redis != nil {
		_ = sm.redis.Close()
	}
	sm.log.Info("sessions_shut_down", zap.Int("closed", len(closing)))
}
