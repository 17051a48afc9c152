package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vovarama1992/relay-ai-bridge/internal/relay"
)

type factory func(t *testing.T, opts Options) relay.Store

func newMemoryStore(t *testing.T, opts Options) relay.Store {
	s := NewMemory(opts)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newRedisStore(t *testing.T, opts Options) relay.Store {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedis(client, "", opts, nil)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var factories = map[string]factory{
	"memory": newMemoryStore,
	"redis":  newRedisStore,
}

func userTurn(text string) relay.Turn {
	return relay.Turn{Role: relay.RoleUser, Content: text, Platform: relay.PlatformTelegram, SenderID: "456"}
}

func contents(turns []relay.Turn) []string {
	out := make([]string, len(turns))
	for i, t := range turns {
		out[i] = t.Content
	}
	return out
}

func TestStoreContract(t *testing.T) {
	for name, newStore := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("unknown session is empty", func(t *testing.T) {
				s := newStore(t, Options{})
				turns, err := s.GetContext(ctx, "nobody")
				require.NoError(t, err)
				assert.Empty(t, turns)

				ttl, err := s.TTL(ctx, "nobody")
				require.NoError(t, err)
				assert.Zero(t, ttl)
			})

			t.Run("round trip keeps order and stamps time", func(t *testing.T) {
				s := newStore(t, Options{})
				require.NoError(t, s.Append(ctx, "s1", userTurn("a")))
				require.NoError(t, s.Append(ctx, "s1",
					userTurn("b"),
					relay.Turn{Role: relay.RoleAssistant, Content: "c"},
				))

				turns, err := s.GetContext(ctx, "s1")
				require.NoError(t, err)
				assert.Equal(t, []string{"a", "b", "c"}, contents(turns))
				assert.Equal(t, relay.RoleAssistant, turns[2].Role)
				assert.Equal(t, "456", turns[0].SenderID)
				for _, tr := range turns {
					assert.False(t, tr.Timestamp.IsZero())
				}
			})

			t.Run("trim keeps the most recent turns", func(t *testing.T) {
				const maxTurns = 5
				s := newStore(t, Options{MaxTurns: maxTurns})
				for i := 0; i < maxTurns+1; i++ {
					require.NoError(t, s.Append(ctx, "s1", userTurn(fmt.Sprint(i))))
				}
				turns, err := s.GetContext(ctx, "s1")
				require.NoError(t, err)
				assert.Equal(t, []string{"1", "2", "3", "4", "5"}, contents(turns))
			})

			t.Run("append refreshes ttl", func(t *testing.T) {
				s := newStore(t, Options{TTL: time.Hour})
				require.NoError(t, s.Append(ctx, "s1", userTurn("a")))
				ttl, err := s.TTL(ctx, "s1")
				require.NoError(t, err)
				assert.InDelta(t, time.Hour.Seconds(), ttl.Seconds(), 2)
			})

			t.Run("clear reports existence", func(t *testing.T) {
				s := newStore(t, Options{})
				require.NoError(t, s.Append(ctx, "s1", userTurn("a")))

				existed, err := s.Clear(ctx, "s1")
				require.NoError(t, err)
				assert.True(t, existed)

				existed, err = s.Clear(ctx, "s1")
				require.NoError(t, err)
				assert.False(t, existed)

				turns, err := s.GetContext(ctx, "s1")
				require.NoError(t, err)
				assert.Empty(t, turns)
			})

			t.Run("list session ids", func(t *testing.T) {
				s := newStore(t, Options{})
				require.NoError(t, s.Append(ctx, "telegram:group:999:thread:t7", userTurn("a")))
				require.NoError(t, s.Append(ctx, "discord:direct:1:2", userTurn("b")))

				ids, err := s.ListSessionIDs(ctx)
				require.NoError(t, err)
				assert.ElementsMatch(t, []string{"telegram:group:999:thread:t7", "discord:direct:1:2"}, ids)
			})

			t.Run("concurrent appends lose nothing", func(t *testing.T) {
				const writers = 10
				s := newStore(t, Options{MaxTurns: 100})

				var wg sync.WaitGroup
				for i := 0; i < writers; i++ {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						assert.NoError(t, s.Append(ctx, "shared",
							userTurn(fmt.Sprintf("u%d", i)),
							relay.Turn{Role: relay.RoleAssistant, Content: fmt.Sprintf("a%d", i)},
						))
					}(i)
				}
				wg.Wait()

				turns, err := s.GetContext(ctx, "shared")
				require.NoError(t, err)
				require.Len(t, turns, 2*writers)
				// Each pair stays adjacent: appends never interleave.
				for i := 0; i < len(turns); i += 2 {
					assert.Equal(t, "u"+turns[i].Content[1:], turns[i].Content)
					assert.Equal(t, "a"+turns[i].Content[1:], turns[i+1].Content)
				}
			})

			t.Run("ping", func(t *testing.T) {
				s := newStore(t, Options{})
				require.NoError(t, s.Ping(ctx))
			})
		})
	}
}

func TestRedisKeyLayout(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedis(client, "", Options{TTL: time.Hour}, nil)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	require.NoError(t, s.Append(ctx, "telegram:direct:123:456", userTurn("hola")))

	assert.True(t, mr.Exists("bot_session:telegram:direct:123:456"))
	assert.Equal(t, time.Hour, mr.TTL("bot_session:telegram:direct:123:456"))

	mr.FastForward(time.Hour + time.Second)
	turns, err := s.GetContext(ctx, "telegram:direct:123:456")
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestRedisCorruptRecordIsReplacedOnAppend(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedis(client, "", Options{}, nil)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	require.NoError(t, mr.Set("bot_session:s1", "not json"))

	_, err := s.GetContext(ctx, "s1")
	require.Error(t, err)

	require.NoError(t, s.Append(ctx, "s1", userTurn("fresh")))
	turns, err := s.GetContext(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, contents(turns))
}

// repeatingScan makes every SCAN page report its keys twice.
type repeatingScan struct{}

func (repeatingScan) DialHook(next redis.DialHook) redis.DialHook { return next }

func (repeatingScan) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if scan, ok := cmd.(*redis.ScanCmd); ok && err == nil {
			keys, cursor := scan.Val()
			scan.SetVal(append(append([]string(nil), keys...), keys...), cursor)
		}
		return err
	}
}

func (repeatingScan) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestRedisListSessionIDsIsUnique(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client.AddHook(repeatingScan{})
	s := NewRedis(client, "", Options{}, nil)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	require.NoError(t, s.Append(ctx, "a", userTurn("one")))
	require.NoError(t, s.Append(ctx, "b", userTurn("two")))

	ids, err := s.ListSessionIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}
