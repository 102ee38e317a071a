package payment

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 64

// keyedLocker serializes work per payment id. Ids hashing to the same stripe
// share a mutex; distinct stripes run in parallel.
type keyedLocker struct {
	stripes [lockStripes]sync.Mutex
}

func (l *keyedLocker) Lock(id string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	m := &l.stripes[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}
