package websocket

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 64

// stripedLocks hands out one of a fixed set of mutexes per key, so work for
// the same key is serialized without a map entry per key.
type stripedLocks [lockStripes]sync.Mutex

func (l *stripedLocks) lockFor(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &l[h.Sum32()%lockStripes]
}
