package page

import (
	"container/list"
	"sync"
)

// pageCache is a small LRU over page bodies. It only relieves read traffic;
// writes always reach the file so Sync stays the single durability point.
type pageCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	entries  map[uint32]*list.Element
}

type cacheEntry struct {
	pageNo uint32
	body   []byte
}

func newPageCache(capacity int) *pageCache {
	return &pageCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[uint32]*list.Element),
	}
}

func (c *pageCache) get(pageNo uint32) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[pageNo]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).body, true
}

func (c *pageCache) put(pageNo uint32, body []byte) {
	if c.capacity <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[pageNo]; ok {
		el.Value.(*cacheEntry).body = body
		c.order.MoveToFront(el)
		return
	}
	c.entries[pageNo] = c.order.PushFront(&cacheEntry{pageNo: pageNo, body: body})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).pageNo)
	}
}

func (c *pageCache) drop(pageNo uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[pageNo]; ok {
		c.order.Remove(el)
		delete(c.entries, pageNo)
	}
}
