package engine

import (
	"hash/fnv"
	"sync"
)

// userLocks serializes operations per user without a global lock. Locks are
// sharded by a hash of the user ID so the registry stays fixed-size no matter
// how many users the guild has; unrelated users rarely contend.
type userLocks struct {
	shards [lockShards]sync.Mutex
}

const lockShards = 256

func (l *userLocks) lock(userID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	mu := &l.shards[h.Sum32()%lockShards]
	mu.Lock()
	return mu
}
