package idempotent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lumenlabs/relayq/backoff"
	"github.com/lumenlabs/relayq/id"
	"github.com/lumenlabs/relayq/kv"
)

// Sentinel errors.
var (
	// ErrContentionTimeout is returned to a waiter when the lock holder
	// neither produced a result nor released the lock within the wait
	// window. The operation may still complete; the key is not poisoned.
	ErrContentionTimeout = errors.New("relayq/idempotent: timed out waiting for concurrent execution")

	// ErrEmptyKey is returned when the idempotency key is empty.
	ErrEmptyKey = errors.New("relayq/idempotent: empty idempotency key")
)

// Key layout. Stable contract: external tooling may inspect these keys.
const (
	keyPrefix    = "idempotent:"
	lockSuffix   = ":lock"
	resultSuffix = ":result"
)

func lockKey(key string) string   { return keyPrefix + key + lockSuffix }
func resultKey(key string) string { return keyPrefix + key + resultSuffix }

// envelope is the JSON value stored under the result key.
type envelope struct {
	Result    json.RawMessage `json:"result"`
	Timestamp time.Time       `json:"timestamp"`
	Status    string          `json:"status"`
}

// Result status values. Only completed outcomes are cached today; the
// field exists so the stored format does not change if that ever does.
const statusCompleted = "completed"

// Hooks receives idempotency lifecycle notifications. *ext.Registry
// satisfies it; the zero value of noopHooks is used when none is set.
type Hooks interface {
	EmitLockAcquired(ctx context.Context, key, token string)
	EmitLockContended(ctx context.Context, key string, timedOut bool)
	EmitLockReleased(ctx context.Context, key string, released bool)
	EmitResultCached(ctx context.Context, key string, cached bool)
}

type noopHooks struct{}

func (noopHooks) EmitLockAcquired(context.Context, string, string) {}
func (noopHooks) EmitLockContended(context.Context, string, bool)  {}
func (noopHooks) EmitLockReleased(context.Context, string, bool)   {}
func (noopHooks) EmitResultCached(context.Context, string, bool)   {}

// Fn is the executor protected by an idempotency key. It runs at most
// once per key while a cached result exists.
type Fn func(ctx context.Context) ([]byte, error)

// Coordinator provides at-most-once execution keyed by idempotency keys.
type Coordinator struct {
	kv     kv.Store
	logger *slog.Logger
	hooks  Hooks

	lockTTL     time.Duration
	resultTTL   time.Duration
	waitTimeout time.Duration
	poll        backoff.Strategy

	renewLock     bool
	renewInterval time.Duration
}

// NewCoordinator creates a Coordinator over the given keyed store.
func NewCoordinator(store kv.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		kv:          store,
		logger:      slog.Default(),
		hooks:       noopHooks{},
		lockTTL:     DefaultLockTTL,
		resultTTL:   DefaultResultTTL,
		waitTimeout: DefaultWaitTimeout,
		poll:        backoff.NewGeometric(DefaultPollInitial, DefaultPollFactor, DefaultPollMax),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.renewLock && c.renewInterval <= 0 {
		c.renewInterval = c.lockTTL / 3
	}
	return c
}

// Do executes fn at most once for the given key. If a cached result
// exists it is returned verbatim with replayed=true and fn never runs.
// If another caller holds the lock, Do waits for their result; when the
// wait window closes without one it returns ErrContentionTimeout.
//
// A failed fn is not cached: the lock is released and the error returned,
// so a subsequent call with the same key retries.
func (c *Coordinator) Do(ctx context.Context, key string, fn Fn) (result []byte, replayed bool, err error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}

	// Fast path: a completed execution replays without touching the lock.
	if cached, ok, getErr := c.getResult(ctx, key); getErr != nil {
		return nil, false, getErr
	} else if ok {
		c.hooks.EmitResultCached(ctx, key, true)
		return cached, true, nil
	}

	token := id.NewLockToken().String()
	acquired, err := c.kv.SetNX(ctx, lockKey(key), []byte(token), c.lockTTL)
	if err != nil {
		return nil, false, fmt.Errorf("relayq/idempotent: acquire lock: %w", err)
	}
	if acquired {
		return c.runAsHolder(ctx, key, token, fn)
	}
	return c.waitForResult(ctx, key, fn)
}

// runAsHolder executes fn under the lock identified by token.
func (c *Coordinator) runAsHolder(ctx context.Context, key, token string, fn Fn) ([]byte, bool, error) {
	// A previous holder may have completed between our result check and
	// the acquire. The cached result wins; fn must not run again.
	if cached, ok, err := c.getResult(ctx, key); err != nil {
		c.releaseLock(ctx, key, token)
		return nil, false, err
	} else if ok {
		c.releaseLock(ctx, key, token)
		c.hooks.EmitResultCached(ctx, key, true)
		return cached, true, nil
	}

	c.hooks.EmitLockAcquired(ctx, key, token)
	c.logger.Debug("idempotency lock acquired",
		slog.String("key", key),
		slog.String("token", token),
	)

	if c.renewLock {
		stopRenew := c.startRenewal(ctx, key, token)
		defer stopRenew()
	}
	defer c.releaseLock(ctx, key, token)

	result, err := fn(ctx)
	if err != nil {
		// Failures are not cached. The next caller retries.
		return nil, false, err
	}

	if err := c.putResult(ctx, key, result); err != nil {
		return nil, false, err
	}
	c.hooks.EmitResultCached(ctx, key, false)
	return result, false, nil
}

// waitForResult polls for the holder's result. If the lock vanishes with
// no result, the holder failed; the waiter retakes the lock and executes.
func (c *Coordinator) waitForResult(ctx context.Context, key string, fn Fn) ([]byte, bool, error) {
	c.hooks.EmitLockContended(ctx, key, false)
	c.logger.Debug("idempotency lock contended, waiting for result",
		slog.String("key", key),
	)

	deadline := time.Now().Add(c.waitTimeout)
	for attempt := 1; ; attempt++ {
		delay := c.poll.Delay(attempt)
		if remaining := time.Until(deadline); remaining <= 0 {
			break
		} else if delay > remaining {
			delay = remaining
		}

		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-time.After(delay):
		}

		if cached, ok, err := c.getResult(ctx, key); err != nil {
			return nil, false, err
		} else if ok {
			c.hooks.EmitResultCached(ctx, key, true)
			return cached, true, nil
		}

		// No result yet. If the lock is gone the holder failed or
		// crashed; take over.
		token := id.NewLockToken().String()
		acquired, err := c.kv.SetNX(ctx, lockKey(key), []byte(token), c.lockTTL)
		if err != nil {
			return nil, false, fmt.Errorf("relayq/idempotent: reacquire lock: %w", err)
		}
		if acquired {
			return c.runAsHolder(ctx, key, token, fn)
		}
	}

	c.hooks.EmitLockContended(ctx, key, true)
	return nil, false, fmt.Errorf("relayq/idempotent: key %q: %w", key, ErrContentionTimeout)
}

// startRenewal extends the lock lease at renewInterval until the returned
// stop function is called. Renewal is compare-and-expire guarded by the
// token: once the lock is lost the loop gives up.
func (c *Coordinator) startRenewal(ctx context.Context, key, token string) (stop func()) {
	done := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		defer close(finished)
		ticker := time.NewTicker(c.renewInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				renewed, err := c.kv.CompareAndExpire(ctx, lockKey(key), []byte(token), c.lockTTL)
				if err != nil {
					c.logger.Warn("idempotency lock renewal failed",
						slog.String("key", key),
						slog.String("error", err.Error()),
					)
					continue
				}
				if !renewed {
					c.logger.Warn("idempotency lock lost during renewal",
						slog.String("key", key),
					)
					return
				}
			}
		}
	}()

	return func() {
		close(done)
		<-finished
	}
}

// releaseLock deletes the lock only if it still carries our token.
// A mismatched token means the lock expired and another caller owns a
// successor lock; deleting it would break their mutual exclusion.
func (c *Coordinator) releaseLock(ctx context.Context, key, token string) {
	released, err := c.kv.CompareAndDelete(ctx, lockKey(key), []byte(token))
	if err != nil {
		c.logger.Warn("idempotency lock release failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return
	}
	if !released {
		c.logger.Warn("idempotency lock expired before release",
			slog.String("key", key),
			slog.String("token", token),
		)
	}
	c.hooks.EmitLockReleased(ctx, key, released)
}

func (c *Coordinator) getResult(ctx context.Context, key string) ([]byte, bool, error) {
	raw, ok, err := c.kv.Get(ctx, resultKey(key))
	if err != nil {
		return nil, false, fmt.Errorf("relayq/idempotent: get result: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false, fmt.Errorf("relayq/idempotent: decode result for key %q: %w", key, err)
	}
	return env.Result, true, nil
}

func (c *Coordinator) putResult(ctx context.Context, key string, result []byte) error {
	env := envelope{
		Result:    result,
		Timestamp: time.Now().UTC(),
		Status:    statusCompleted,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("relayq/idempotent: encode result: %w", err)
	}
	if err := c.kv.Set(ctx, resultKey(key), raw, c.resultTTL); err != nil {
		return fmt.Errorf("relayq/idempotent: store result: %w", err)
	}
	return nil
}

// Execute runs a typed executor at most once for the given key. The
// return value is marshalled to JSON for caching; replays unmarshal the
// cached bytes.
func Execute[T any](ctx context.Context, c *Coordinator, key string, fn func(ctx context.Context) (T, error)) (T, bool, error) {
	var zero T

	raw, replayed, err := c.Do(ctx, key, func(ctx context.Context) ([]byte, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("relayq/idempotent: encode value: %w", err)
		}
		return data, nil
	})
	if err != nil {
		return zero, replayed, err
	}

	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, replayed, fmt.Errorf("relayq/idempotent: decode value for key %q: %w", key, err)
	}
	return v, replayed, nil
}
