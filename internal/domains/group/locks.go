package group

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 64

// KeyedLocks is a striped mutex table keyed by group id. Two events for the
// same group always serialize; events for different groups contend only on a
// hash collision, never on a global lock.
type KeyedLocks struct {
	stripes [lockStripes]sync.Mutex
}

// Lock acquires the stripe for key and returns the matching unlock.
func (k *KeyedLocks) Lock(key string) func() {
	h := fnv.New32a()
	h.Write([]byte(key))
	stripe := &k.stripes[h.Sum32()%lockStripes]
	stripe.Lock()
	return stripe.Unlock
}
