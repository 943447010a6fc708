package server

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"dronecoord/internal/app"
	"dronecoord/internal/config"
	"dronecoord/internal/shell"
)

const maxChatSessions = 256

// session serializes the messages of one conversation.
type session struct {
	mu sync.Mutex
	sh *shell.Shell
}

// sessions keeps one shell per actor and session id, dropping the least
// recently used once full.
type sessions struct {
	coord *app.Coordinator
	vocab config.ShellConfig
	log   *zap.Logger

	mu    sync.Mutex
	cache *lru.Cache[string, *session]
}

func newSessions(c *app.Coordinator, vocab config.ShellConfig, log *zap.Logger, size int) (*sessions, error) {
	s := &sessions{coord: c, vocab: vocab, log: log}
	cache, err := lru.NewWithEvict(size, func(key string, _ *session) {
		s.log.Debug("chat session evicted", zap.String("key", key))
	})
	if err != nil {
		return nil, err
	}
	s.cache = cache
	return s, nil
}

func (s *sessions) lookup(actorID, sessionID string) *session {
	key := actorID + "\x00" + sessionID
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.cache.Get(key); ok {
		return sess
	}
	sess := &session{sh: shell.New(s.coord, s.vocab, actorID, s.log.With(zap.String("session", sessionID)))}
	s.cache.Add(key, sess)
	return sess
}

func (s *sessions) handle(ctx context.Context, actorID, sessionID, msg string) shell.Reply {
	sess := s.lookup(actorID, sessionID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.sh.Handle(ctx, msg)
}
