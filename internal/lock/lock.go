// Package lock holds the redis-backed run lock that keeps two processes
// from dispatching the same channel at once.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	logx "expirybot/pkg/logx"
)

// ErrHeld is returned when another holder owns the lock.
var ErrHeld = errors.New("lock: already held")

// ErrLost is returned when the key expired or now belongs to another holder.
var ErrLost = errors.New("lock expired or held by another process")

const (
	unlockScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"
	extendScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('pexpire', KEYS[1], ARGV[2]) else return 0 end"

	DefaultTTL    = 2 * time.Hour
	DefaultPrefix = "expirybot:run:"
)

// Locker is a single-key lock. value identifies the holder so only the
// holder can unlock or extend it.
type Locker struct {
	client redis.UniversalClient
	key    string
	value  string
}

func NewLocker(client redis.UniversalClient, key, value string) *Locker {
	return &Locker{client: client, key: key, value: value}
}

func (l *Locker) Key() string { return l.key }

func (l *Locker) Lock(ctx context.Context, ttl time.Duration) error {
	ok, err := l.client.SetNX(ctx, l.key, l.value, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrHeld, l.key)
	}
	return nil
}

func (l *Locker) Unlock(ctx context.Context) error {
	res, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Result()
	if err != nil {
		return err
	}
	if res == int64(0) {
		return fmt.Errorf("unlock %s: %w", l.key, ErrLost)
	}
	return nil
}

func (l *Locker) Extend(ctx context.Context, ttl time.Duration) error {
	res, err := l.client.Eval(ctx, extendScript, []string{l.key}, l.value, fmt.Sprintf("%d", ttl.Milliseconds())).Result()
	if err != nil {
		return err
	}
	if res == int64(0) {
		return fmt.Errorf("extend %s: %w", l.key, ErrLost)
	}
	return nil
}

// Config configures Runs.
type Config struct {
	Addr      string
	Password  string
	DB        int
	TTL       time.Duration
	KeyPrefix string
}

// Runs hands out one lock per channel name.
type Runs struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
	owned  bool
	log    logx.Logger
}

// Dial connects to redis and pings it.
func Dial(ctx context.Context, cfg Config) (*Runs, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("lock: redis addr is required")
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("lock: redis ping: %w", err)
	}
	r := NewRuns(client, cfg.TTL, cfg.KeyPrefix)
	r.owned = true
	return r, nil
}

// NewRuns wraps an existing client. The caller keeps ownership of client.
func NewRuns(client redis.UniversalClient, ttl time.Duration, prefix string) *Runs {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultPrefix
	}
	return &Runs{client: client, ttl: ttl, prefix: prefix, log: logx.Nop()}
}

func (r *Runs) SetLogger(log logx.Logger) { r.log = log }

// Acquire takes the lock for name and keeps extending it every ttl/3 until
// release is called, so runs longer than the TTL stay exclusive. release is
// safe to call once the run finishes, even after the lock was lost.
func (r *Runs) Acquire(ctx context.Context, name string) (release func(context.Context) error, err error) {
	l := NewLocker(r.client, r.prefix+name, uuid.NewString())
	if err := l.Lock(ctx, r.ttl); err != nil {
		return nil, err
	}
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.keepAlive(l, stop)
	}()
	var once sync.Once
	return func(ctx context.Context) error {
		once.Do(func() {
			close(stop)
			wg.Wait()
		})
		return l.Unlock(ctx)
	}, nil
}

func (r *Runs) keepAlive(l *Locker, stop <-chan struct{}) {
	every := max(r.ttl/3, time.Millisecond)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), min(every, 5*time.Second))
		err := l.Extend(ctx, r.ttl)
		cancel()
		switch {
		case errors.Is(err, ErrLost):
			r.log.Error("run lock lost mid-run", logx.String("key", l.Key()))
			return
		case err != nil:
			// retried on the next tick
			r.log.Warn("run lock extend failed", logx.String("key", l.Key()), logx.Err(err))
		}
	}
}

func (r *Runs) Close() error {
	if r == nil || !r.owned {
		return nil
	}
	return r.client.Close()
}
