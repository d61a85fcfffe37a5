package kafkaconsumer

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// offsetDedupe remembers the last applied offset per topic partition, so
// messages redelivered after a rebalance don't bump generations again.
type offsetDedupe struct {
	mu  sync.Mutex
	lru *lru.Cache[string, int64]
}

func newOffsetDedupe(size int) *offsetDedupe {
	if size <= 0 {
		size = 4096
	}
	c, _ := lru.New[string, int64](size)
	return &offsetDedupe{lru: c}
}

func partitionKey(topic string, partition int32) string {
	return fmt.Sprintf("%s/%d", topic, partition)
}

// applied reports whether offset was already handled for key.
func (d *offsetDedupe) applied(key string, offset int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.lru.Get(key)
	return ok && offset <= last
}

func (d *offsetDedupe) record(key string, offset int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lru.Get(key); ok && offset <= last {
		return
	}
	d.lru.Add(key, offset)
}
