package channel

import (
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"notifgw/internal/domain"
)

// ClientCache holds one provider client per channel id. Concurrent misses for the
// same channel share a single build.
type ClientCache[T any] struct {
	build func(domain.Channel) (T, error)

	mu      sync.RWMutex
	clients map[int64]T
	group   singleflight.Group
}

func NewClientCache[T any](build func(domain.Channel) (T, error)) *ClientCache[T] {
	return &ClientCache[T]{build: build, clients: make(map[int64]T)}
}

func (c *ClientCache[T]) Get(ch domain.Channel) (T, error) {
	c.mu.RLock()
	cli, ok := c.clients[ch.ID]
	c.mu.RUnlock()
	if ok {
		return cli, nil
	}

	v, err, _ := c.group.Do(strconv.FormatInt(ch.ID, 10), func() (any, error) {
		c.mu.RLock()
		cli, ok := c.clients[ch.ID]
		c.mu.RUnlock()
		if ok {
			return cli, nil
		}
		cli, err := c.build(ch)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.clients[ch.ID] = cli
		c.mu.Unlock()
		return cli, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func (c *ClientCache[T]) Invalidate(channelID int64) {
	c.mu.Lock()
	delete(c.clients, channelID)
	c.mu.Unlock()
	c.group.Forget(strconv.FormatInt(channelID, 10))
}
