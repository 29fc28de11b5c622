package repo

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopassist/server/internal/agent/model"
	errx "github.com/shopassist/server/internal/core/error"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func sampleConversation() *model.Conversation {
	conv := model.NewConversation("thread-1", "7")
	conv.Append(
		schema.UserMessage("add product 123"),
		schema.AssistantMessage("", []schema.ToolCall{{ID: "call_1", Function: schema.FunctionCall{Name: "add_to_cart", Arguments: `{"product_id":123}`}}}),
	)
	res := schema.ToolMessage("Added 1 x Organic Baby Spinach (ID: 123) to the cart. Quantity in cart: 1.", "call_1")
	res.ToolName = "add_to_cart"
	res.Extra = map[string]any{model.ExtraStatus: model.StatusSuccess}
	conv.Append(res, schema.AssistantMessage("Done!", nil))
	conv.Cart.Add(123, 1)
	conv.Cart.Record("call_1", res.Content)
	conv.CallSeq = 1
	return conv
}

func repositories(t *testing.T) map[string]model.ConversationRepository {
	_, client := newRedis(t)
	return map[string]model.ConversationRepository{
		"memory": NewMemoryConversationRepository(time.Hour),
		"redis":  NewRedisConversationRepository(client, time.Hour),
	}
}

func TestRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, r := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			_, found, err := r.Load(ctx, "thread-1")
			require.NoError(t, err)
			assert.False(t, found)

			conv := sampleConversation()
			require.NoError(t, r.Save(ctx, conv))
			assert.Equal(t, 4, conv.Persisted())

			got, found, err := r.Load(ctx, "thread-1")
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, "7", got.UserID)
			assert.Equal(t, model.AgentSales, got.ActiveAgent)
			assert.Equal(t, 1, got.Cart.Quantity(123))
			assert.Equal(t, 1, got.CallSeq)
			require.Len(t, got.Messages, 4)
			assert.Equal(t, "call_1", got.Messages[2].ToolCallID)
			assert.Equal(t, model.StatusSuccess, got.Messages[2].Extra[model.ExtraStatus])
			require.NoError(t, got.Validate())

			_, replayed := got.Cart.Replayed("call_1")
			assert.True(t, replayed)

			// append a turn and save incrementally
			got.Append(schema.UserMessage("thanks"), schema.AssistantMessage("You're welcome!", nil))
			got.PendingEscalation = true
			require.NoError(t, r.Save(ctx, got))

			again, _, err := r.Load(ctx, "thread-1")
			require.NoError(t, err)
			require.Len(t, again.Messages, 6)
			assert.Equal(t, "You're welcome!", again.Messages[5].Content)
			assert.True(t, again.PendingEscalation)

			ids, err := r.ListThreads(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"thread-1"}, ids)

			require.NoError(t, r.Delete(ctx, "thread-1"))
			_, found, err = r.Load(ctx, "thread-1")
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestMemoryRepositoryIsolation(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryConversationRepository(0)
	conv := sampleConversation()
	require.NoError(t, r.Save(ctx, conv))

	conv.Cart.Add(123, 5)
	conv.Append(schema.UserMessage("later"))

	got, _, err := r.Load(ctx, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Cart.Quantity(123))
	assert.Len(t, got.Messages, 4)
}

func TestMemoryRepositoryExpiry(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryConversationRepository(time.Minute)
	now := time.Now()
	r.now = func() time.Time { return now }
	require.NoError(t, r.Save(ctx, sampleConversation()))

	now = now.Add(2 * time.Minute)
	_, found, err := r.Load(ctx, "thread-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisRepositoryTTL(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	r := NewRedisConversationRepository(client, 30*time.Minute)
	require.NoError(t, r.Save(ctx, sampleConversation()))

	assert.Equal(t, 30*time.Minute, mr.TTL("conversation:thread-1:state"))
	assert.Equal(t, 30*time.Minute, mr.TTL("conversation:thread-1:messages"))

	mr.FastForward(31 * time.Minute)
	_, found, err := r.Load(ctx, "thread-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisRepositoryDropsUnsavedTail(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	r := NewRedisConversationRepository(client, 0)
	require.NoError(t, r.Save(ctx, sampleConversation()))

	// a stray entry past the saved count is ignored and overwritten
	_, err := mr.Push("conversation:thread-1:messages", `{"role":"user","content":"stray"}`)
	require.NoError(t, err)

	conv, _, err := r.Load(ctx, "thread-1")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 4)

	conv.Append(schema.UserMessage("next"))
	require.NoError(t, r.Save(ctx, conv))
	conv, _, err = r.Load(ctx, "thread-1")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 5)
	assert.Equal(t, "next", conv.Messages[4].Content)
}

func TestRedisRepositoryUnavailable(t *testing.T) {
	mr, client := newRedis(t)
	r := NewRedisConversationRepository(client, 0)
	mr.Close()

	_, _, err := r.Load(context.Background(), "thread-1")
	require.Error(t, err)
	assert.Equal(t, 502, errx.StatusOf(err))
}

func TestMemoryLocker(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker(0)

	unlock, err := l.Lock(ctx, "t1", time.Minute)
	require.NoError(t, err)

	_, err = l.Lock(ctx, "t1", time.Minute)
	assert.ErrorIs(t, err, errx.ErrThreadBusy)

	other, err := l.Lock(ctx, "t2", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other(ctx))

	require.NoError(t, unlock(ctx))
	require.NoError(t, unlock(ctx))

	again, err := l.Lock(ctx, "t1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
	assert.Empty(t, l.slots)
}

func TestMemoryLockerSerialises(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker(5 * time.Second)

	var (
		inside  atomic.Int32
		overlap atomic.Bool
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "t1", time.Minute)
			if !assert.NoError(t, err) {
				return
			}
			if inside.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			_ = unlock(ctx)
		}()
	}
	wg.Wait()
	assert.False(t, overlap.Load())
}

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	l := NewRedisLocker(client, 0)

	unlock, err := l.Lock(ctx, "t1", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, mr.Exists("conversation:t1:lock"))

	_, err = l.Lock(ctx, "t1", 5*time.Second)
	assert.ErrorIs(t, err, errx.ErrThreadBusy)

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("conversation:t1:lock"))

	// a lock taken over after expiry is not released by the old holder
	unlock, err = l.Lock(ctx, "t1", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)
	unlock2, err := l.Lock(ctx, "t1", 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, unlock(ctx))
	assert.True(t, mr.Exists("conversation:t1:lock"))
	require.NoError(t, unlock2(ctx))
}

func TestRedisLockerWaitsForRelease(t *testing.T) {
	ctx := context.Background()
	_, client := newRedis(t)
	l := NewRedisLocker(client, 2*time.Second)

	unlock, err := l.Lock(ctx, "t1", 5*time.Second)
	require.NoError(t, err)
	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = unlock(ctx)
	}()

	unlock2, err := l.Lock(ctx, "t1", 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, unlock2(ctx))
}
