package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopassist/server/internal/agent/model"
)

// MemoryConversationRepository keeps conversations in process memory. Entries
// idle for longer than ttl are treated as gone.
type MemoryConversationRepository struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

type memoryEntry struct {
	conv    *model.Conversation
	touched time.Time
}

func NewMemoryConversationRepository(ttl time.Duration) *MemoryConversationRepository {
	return &MemoryConversationRepository{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (r *MemoryConversationRepository) expired(e memoryEntry) bool {
	return r.ttl > 0 && r.now().Sub(e.touched) > r.ttl
}

func (r *MemoryConversationRepository) Load(_ context.Context, threadID string) (*model.Conversation, bool, error) {
	r.mu.RLock()
	e, ok := r.entries[threadID]
	r.mu.RUnlock()
	if !ok || r.expired(e) {
		return nil, false, nil
	}
	return e.conv.Clone(), true, nil
}

func (r *MemoryConversationRepository) Save(_ context.Context, conv *model.Conversation) error {
	stored := conv.Clone()
	stored.MarkPersisted()

	r.mu.Lock()
	r.entries[conv.ThreadID] = memoryEntry{conv: stored, touched: r.now()}
	r.mu.Unlock()

	conv.MarkPersisted()
	return nil
}

func (r *MemoryConversationRepository) Delete(_ context.Context, threadID string) error {
	r.mu.Lock()
	delete(r.entries, threadID)
	r.mu.Unlock()
	return nil
}

func (r *MemoryConversationRepository) ListThreads(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.entries))
	for id, e := range r.entries {
		if r.expired(e) {
			delete(r.entries, id)
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

var _ model.ConversationRepository = (*MemoryConversationRepository)(nil)
