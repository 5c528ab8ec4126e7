package idgen

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
)

var (
	ErrWorkerIDTaken = errors.New("worker ID already claimed by another instance")
	ErrNoFreeWorker  = errors.New("no free worker ID available")
	ErrLeaseLost     = errors.New("worker ID lease lost")
	ErrLeaseReleased = errors.New("worker ID lease released")
)

// Lease is a worker identity that has been confirmed unique across the fleet.
// Err returns nil while the identity is held.
type Lease interface {
	WorkerID() int64
	Err() error
}

// StaticLease is a fixed identity for single-instance deployments and tests,
// where uniqueness is guaranteed by construction rather than a registry.
type StaticLease int64

func (l StaticLease) WorkerID() int64 { return int64(l) }
func (l StaticLease) Err() error      { return nil }

const workerKeyPrefix = "idgen:worker:"

// releaseScript deletes the lease key only if we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lease only if we still own it.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisRegistry claims worker IDs with SET NX leases in Redis.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisRegistry creates a registry whose leases expire after ttl unless renewed.
func NewRedisRegistry(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisRegistry {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisRegistry{client: client, ttl: ttl, logger: logger}
}

// Claim takes exactly workerID, failing with ErrWorkerIDTaken if another
// instance holds it.
func (r *RedisRegistry) Claim(ctx context.Context, workerID int64) (*RedisLease, error) {
	if workerID < 0 || workerID > MaxWorkerID {
		return nil, fmt.Errorf("%w: got %d", ErrWorkerIDRange, workerID)
	}
	token, err := newInstanceToken()
	if err != nil {
		return nil, err
	}
	// the key's TTL runs from no later than this instant
	claimedAt := time.Now()
	ok, err := r.client.SetNX(ctx, workerKey(workerID), token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("claim worker %d: %w", workerID, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrWorkerIDTaken, workerID)
	}
	lease := newRedisLease(r, workerID, token, claimedAt)
	r.logger.Info("worker id claimed", "worker_id", workerID, "ttl", r.ttl)
	return lease, nil
}

// ClaimAny takes the lowest free worker ID.
func (r *RedisRegistry) ClaimAny(ctx context.Context) (*RedisLease, error) {
	for id := int64(0); id <= MaxWorkerID; id++ {
		lease, err := r.Claim(ctx, id)
		if err == nil {
			return lease, nil
		}
		if !errors.Is(err, ErrWorkerIDTaken) {
			return nil, err
		}
	}
	return nil, ErrNoFreeWorker
}

// RedisLease keeps a claimed worker ID alive until Release or loss.
type RedisLease struct {
	reg      *RedisRegistry
	workerID int64
	token    string

	lost   atomic.Pointer[error]
	stopCh chan struct{}
	once   sync.Once
	done   chan struct{}
}

func newRedisLease(reg *RedisRegistry, workerID int64, token string, claimedAt time.Time) *RedisLease {
	l := &RedisLease{
		reg:      reg,
		workerID: workerID,
		token:    token,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go l.keepAlive(claimedAt)
	return l
}

func (l *RedisLease) WorkerID() int64 { return l.workerID }

func (l *RedisLease) Err() error {
	if p := l.lost.Load(); p != nil {
		return *p
	}
	return nil
}

func (l *RedisLease) fail(err error) {
	l.lost.CompareAndSwap(nil, &err)
}

// keepAlive renews the lease at a third of its TTL. A successful renewal
// extends the key to renewal start plus TTL. Once failures leave less than
// one interval before that deadline, the next tick would be too late, so
// the lease is marked lost and the generator stops issuing while the key
// is still ours.
func (l *RedisLease) keepAlive(lastRenewed time.Time) {
	defer close(l.done)
	interval := l.reg.ttl / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			start := time.Now()
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			n, err := renewScript.Run(ctx, l.reg.client, []string{workerKey(l.workerID)}, l.token, l.reg.ttl.Milliseconds()).Int64()
			cancel()
			switch {
			case err == nil && n == 1:
				lastRenewed = start
			case err == nil:
				l.reg.logger.Error("worker id lease taken over", "worker_id", l.workerID)
				l.fail(ErrLeaseLost)
				return
			default:
				l.reg.logger.Warn("worker id lease renewal failed", "worker_id", l.workerID, "error", err)
				if time.Since(lastRenewed) >= l.reg.ttl-interval {
					l.fail(ErrLeaseLost)
					return
				}
			}
		}
	}
}

// Release stops renewal and frees the worker ID if still owned.
func (l *RedisLease) Release(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		close(l.stopCh)
		<-l.done
		l.fail(ErrLeaseReleased)
		err = releaseScript.Run(ctx, l.reg.client, []string{workerKey(l.workerID)}, l.token).Err()
		if err == nil {
			l.reg.logger.Info("worker id released", "worker_id", l.workerID)
		}
	})
	return err
}

func workerKey(id int64) string {
	return fmt.Sprintf("%s%d", workerKeyPrefix, id)
}

func newInstanceToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate instance token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
