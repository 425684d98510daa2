package worker

import (
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrLeaseHeld means another worker owns the strategy's lease. Jobs that hit
// it are requeued, never failed.
var ErrLeaseHeld = errors.New("lease held")

const numShards = 16

// Lease is a time-bounded exclusive claim on a key.
type Lease struct {
	Key     string
	Token   string
	Expires time.Time
}

// Leases is a sharded lease table keyed by strategy id.
type Leases struct {
	shards [numShards]*leaseShard
	ttl    time.Duration
	now    func() time.Time
}

type leaseShard struct {
	mu    sync.Mutex
	items map[string]Lease
}

// NewLeases creates a lease table whose leases expire after ttl.
func NewLeases(ttl time.Duration) *Leases {
	l := &Leases{ttl: ttl, now: time.Now}
	for i := 0; i < numShards; i++ {
		l.shards[i] = &leaseShard{items: make(map[string]Lease)}
	}
	return l
}

func (l *Leases) getShard(key string) *leaseShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return l.shards[h.Sum32()%numShards]
}

// TryAcquire claims key unless a live lease exists. An expired lease is
// taken over.
func (l *Leases) TryAcquire(key string) (Lease, bool) {
	shard := l.getShard(key)
	now := l.now()
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if cur, ok := shard.items[key]; ok && now.Before(cur.Expires) {
		return Lease{}, false
	}
	lease := Lease{Key: key, Token: uuid.NewString(), Expires: now.Add(l.ttl)}
	shard.items[key] = lease
	return lease, true
}

// Release frees the lease if it is still owned by the holder of lease.
func (l *Leases) Release(lease Lease) bool {
	if lease.Key == "" {
		return false
	}
	shard := l.getShard(lease.Key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if cur, ok := shard.items[lease.Key]; ok && cur.Token == lease.Token {
		delete(shard.items, lease.Key)
		return true
	}
	return false
}

// Renew pushes the expiry of lease out by one TTL. It fails once the lease
// was released or taken over.
func (l *Leases) Renew(lease Lease) (Lease, bool) {
	if lease.Key == "" {
		return Lease{}, false
	}
	shard := l.getShard(lease.Key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	cur, ok := shard.items[lease.Key]
	if !ok || cur.Token != lease.Token {
		return Lease{}, false
	}
	cur.Expires = l.now().Add(l.ttl)
	shard.items[lease.Key] = cur
	return cur, true
}

// TTL is the lifetime of a fresh or renewed lease.
func (l *Leases) TTL() time.Duration { return l.ttl }

// Held reports whether key has a live lease.
func (l *Leases) Held(key string) bool {
	shard := l.getShard(key)
	now := l.now()
	shard.mu.Lock()
	defer shard.mu.Unlock()
	cur, ok := shard.items[key]
	return ok && now.Before(cur.Expires)
}

// Len returns live and expired leases across all shards.
func (l *Leases) Len() int {
	total := 0
	for _, shard := range l.shards {
		shard.mu.Lock()
		total += len(shard.items)
		shard.mu.Unlock()
	}
	return total
}

// Sweep removes expired leases.
func (l *Leases) Sweep() int {
	removed := 0
	now := l.now()
	for _, shard := range l.shards {
		shard.mu.Lock()
		for key, lease := range shard.items {
			if !now.Before(lease.Expires) {
				delete(shard.items, key)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}
