package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const channelPrefix = "realtime:"

func channelFor(table string) string { return channelPrefix + table }

// DialRedis parses a redis:// URL, applies connection timeouts and pings the server.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// RedisBus fans change events out across processes over Redis pub/sub.
// Each table maps to one channel; column predicates are matched locally.
type RedisBus struct {
	client *redis.Client
	buffer int
	lg     *zap.SugaredLogger
	obs    Observer
}

func NewRedisBus(client *redis.Client, lg *zap.SugaredLogger, obs Observer) *RedisBus {
	if obs == nil {
		obs = nopObserver{}
	}
	return &RedisBus{client: client, buffer: defaultBuffer, lg: lg, obs: obs}
}

func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}
	if err := b.client.Publish(ctx, channelFor(ev.Table), data).Err(); err != nil {
		return fmt.Errorf("publish change event: %w", err)
	}
	b.obs.EventPublished(ev.Table)
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, filters ...Filter) (*Subscription, error) {
	if err := validateFilters(filters); err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var channels []string
	for _, f := range filters {
		if !seen[f.Table] {
			seen[f.Table] = true
			channels = append(channels, channelFor(f.Table))
		}
	}

	ps := b.client.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %v: %w", channels, err)
	}

	filters = append([]Filter(nil), filters...)
	out := make(chan Event, b.buffer)
	done := make(chan struct{})
	s := &Subscription{C: out}
	s.stop = func() {
		close(done)
		_ = ps.Close()
	}

	go func() {
		defer close(out)
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				s.Close()
				return
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.lg.Warnw("discarding malformed change event", "channel", msg.Channel, "error", err)
					continue
				}
				if !matchAny(filters, ev) {
					continue
				}
				select {
				case out <- ev:
				default:
					b.obs.EventDropped(ev.Table)
					b.lg.Warnw("dropping change event for slow subscriber", "table", ev.Table, "type", ev.Type)
				}
			}
		}
	}()
	return s, nil
}
