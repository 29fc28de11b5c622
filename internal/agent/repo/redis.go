package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"

	"github.com/shopassist/server/internal/agent/model"
	errx "github.com/shopassist/server/internal/core/error"
	logx "github.com/shopassist/server/pkg/logger"
)

// RedisConversationRepository stores the transcript of a thread as a Redis
// list of JSON messages and everything else as one JSON state document. Both
// keys share the TTL, refreshed on every save.
type RedisConversationRepository struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisConversationRepository(rdb redis.Cmdable, ttl time.Duration) *RedisConversationRepository {
	return &RedisConversationRepository{rdb: rdb, ttl: ttl}
}

func (r *RedisConversationRepository) messagesKey(threadID string) string {
	return fmt.Sprintf("conversation:%s:messages", threadID)
}

func (r *RedisConversationRepository) stateKey(threadID string) string {
	return fmt.Sprintf("conversation:%s:state", threadID)
}

// conversationState is the stored form of a Conversation without messages.
type conversationState struct {
	ThreadID          string             `json:"thread_id"`
	UserID            string             `json:"user_id,omitempty"`
	ActiveAgent       model.AgentKind    `json:"active_agent"`
	Cart              model.Cart         `json:"cart"`
	PendingEscalation bool               `json:"pending_escalation"`
	Escalations       []model.Escalation `json:"escalations,omitempty"`
	CallSeq           int                `json:"call_seq"`
	MessageCount      int                `json:"message_count"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

func (r *RedisConversationRepository) Load(ctx context.Context, threadID string) (*model.Conversation, bool, error) {
	raw, err := r.rdb.Get(ctx, r.stateKey(threadID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		logx.Error().Err(err).Str("thread_id", threadID).Msg("failed to load conversation state from redis")
		return nil, false, errx.WrapRedis(err)
	}

	var st conversationState
	if err := json.Unmarshal(raw, &st); err != nil {
		logx.Error().Err(err).Str("thread_id", threadID).Msg("failed to unmarshal conversation state")
		return nil, false, fmt.Errorf("unmarshal conversation state: %w", err)
	}

	msgs := []*schema.Message{}
	if st.MessageCount > 0 {
		key := r.messagesKey(threadID)
		rows, err := r.rdb.LRange(ctx, key, 0, int64(st.MessageCount-1)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			logx.Error().Err(err).Str("key", key).Msg("failed to load conversation history from redis")
			return nil, false, errx.WrapRedis(err)
		}
		if len(rows) != st.MessageCount {
			return nil, false, fmt.Errorf("conversation %s: expected %d messages, found %d", threadID, st.MessageCount, len(rows))
		}
		msgs = make([]*schema.Message, 0, len(rows))
		for i, s := range rows {
			var m schema.Message
			if err := json.Unmarshal([]byte(s), &m); err != nil {
				logx.Error().Err(err).Str("thread_id", threadID).Int("index", i).Msg("failed to unmarshal message")
				return nil, false, fmt.Errorf("unmarshal message at index %d: %w", i, err)
			}
			msgs = append(msgs, &m)
		}
	}

	conv := &model.Conversation{
		ThreadID:          st.ThreadID,
		UserID:            st.UserID,
		Messages:          msgs,
		ActiveAgent:       st.ActiveAgent,
		Cart:              st.Cart,
		PendingEscalation: st.PendingEscalation,
		Escalations:       st.Escalations,
		CallSeq:           st.CallSeq,
		CreatedAt:         st.CreatedAt,
		UpdatedAt:         st.UpdatedAt,
	}
	if conv.Cart.Items == nil {
		conv.Cart.Items = map[int64]int{}
	}
	if conv.Cart.Applied == nil {
		conv.Cart.Applied = map[string]string{}
	}
	conv.MarkPersisted()
	return conv, true, nil
}

// Save appends the messages added since the conversation was loaded and
// rewrites the state document in one transaction.
func (r *RedisConversationRepository) Save(ctx context.Context, conv *model.Conversation) error {
	from := conv.Persisted()
	if from > len(conv.Messages) {
		from = 0
	}

	rows := make([]any, 0, len(conv.Messages)-from)
	for _, m := range conv.Messages[from:] {
		b, err := json.Marshal(m)
		if err != nil {
			logx.Error().Err(err).Str("thread_id", conv.ThreadID).Msg("failed to marshal message")
			return fmt.Errorf("marshal message: %w", err)
		}
		rows = append(rows, b)
	}

	state, err := json.Marshal(conversationState{
		ThreadID:          conv.ThreadID,
		UserID:            conv.UserID,
		ActiveAgent:       conv.ActiveAgent,
		Cart:              conv.Cart,
		PendingEscalation: conv.PendingEscalation,
		Escalations:       conv.Escalations,
		CallSeq:           conv.CallSeq,
		MessageCount:      len(conv.Messages),
		CreatedAt:         conv.CreatedAt,
		UpdatedAt:         conv.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal conversation state: %w", err)
	}

	msgKey, stKey := r.messagesKey(conv.ThreadID), r.stateKey(conv.ThreadID)
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		// drop anything past what this writer loaded
		if from == 0 {
			p.Del(ctx, msgKey)
		} else {
			p.LTrim(ctx, msgKey, 0, int64(from-1))
		}
		if len(rows) > 0 {
			p.RPush(ctx, msgKey, rows...)
		}
		p.Set(ctx, stKey, state, r.ttl)
		if r.ttl > 0 {
			p.Expire(ctx, msgKey, r.ttl)
		}
		return nil
	})
	if err != nil {
		logx.Error().Err(err).Str("thread_id", conv.ThreadID).Msg("failed to save conversation to redis")
		return errx.WrapRedis(err)
	}

	conv.MarkPersisted()
	return nil
}

func (r *RedisConversationRepository) Delete(ctx context.Context, threadID string) error {
	if err := r.rdb.Del(ctx, r.messagesKey(threadID), r.stateKey(threadID)).Err(); err != nil {
		logx.Error().Err(err).Str("thread_id", threadID).Msg("failed to delete conversation from redis")
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisConversationRepository) ListThreads(ctx context.Context) ([]string, error) {
	var (
		ids    []string
		cursor uint64
	)
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, "conversation:*:state", 100).Result()
		if err != nil {
			logx.Error().Err(err).Msg("failed to scan conversations in redis")
			return nil, errx.WrapRedis(err)
		}
		for _, k := range keys {
			ids = append(ids, strings.TrimSuffix(strings.TrimPrefix(k, "conversation:"), ":state"))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Strings(ids)
	return ids, nil
}

var _ model.ConversationRepository = (*RedisConversationRepository)(nil)
