package api

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

type fetchFunc func(ctx context.Context, url string) ([]byte, error)

// pdfCache keeps recently proxied documents and collapses concurrent fetches
// of the same URL into one upstream request.
type pdfCache struct {
	fetch fetchFunc
	lru   *expirable.LRU[string, []byte]
	group singleflight.Group
}

func newPDFCache(fetch fetchFunc, size int, ttl time.Duration) *pdfCache {
	c := &pdfCache{fetch: fetch}
	if size > 0 {
		c.lru = expirable.NewLRU[string, []byte](size, nil, ttl)
	}
	return c
}

func (c *pdfCache) Get(ctx context.Context, url string) ([]byte, error) {
	if c.lru != nil {
		if data, ok := c.lru.Get(url); ok {
			return data, nil
		}
	}

	v, err, _ := c.group.Do(url, func() (any, error) {
		// Shared by every waiter, so one caller going away must not cancel it.
		data, err := c.fetch(context.WithoutCancel(ctx), url)
		if err != nil {
			return nil, err
		}
		if c.lru != nil {
			c.lru.Add(url, data)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Len reports the number of cached documents.
func (c *pdfCache) Len() int {
	if c.lru == nil {
		return 0
	}
	return c.lru.Len()
}
