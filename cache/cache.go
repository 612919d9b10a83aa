// Package cache keeps the latest value of every streamed field, keyed by
// service, symbol and field name. Feeds send deltas: a quote update carries
// only the fields that changed, so a consumer who wants the full current
// picture of a symbol folds the record stream into a Cache.
package cache

import (
	"sync"

	"github.com/tdstream/td-sdk-go/common"
)

type fieldKey struct {
	service string
	symbol  string
	field   string
}

// Cache is safe for concurrent use: typically one goroutine Applies records
// pulled from the stream while others Get.
type Cache struct {
	mtx    sync.RWMutex
	values map[fieldKey]string

	// currentSymbol tracks, per service, which symbol the subsequent
	// records belong to. Records arrive in wire order, each symbol marker
	// scoping the fields that follow it.
	currentSymbol map[string]string
}

func New() *Cache {
	return &Cache{
		values:        make(map[fieldKey]string),
		currentSymbol: make(map[string]string),
	}
}

// Apply folds one record into the cache. Symbol marker records switch the
// current symbol of their service; every other record lands under that
// symbol.
func (c *Cache) Apply(rec common.Record) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if rec.IsSymbol() {
		c.currentSymbol[rec.Service] = rec.Value
		return
	}

	symbol, ok := c.currentSymbol[rec.Service]
	if !ok {
		// A field before any symbol marker has nowhere to land.
		return
	}

	c.values[fieldKey{service: rec.Service, symbol: symbol, field: rec.Field}] = rec.Value
}

// Get returns the latest value of the given field for a symbol on a service.
func (c *Cache) Get(service, symbol, field string) (string, bool) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()

	v, hit := c.values[fieldKey{service: service, symbol: symbol, field: field}]
	return v, hit
}

// Symbol returns every cached field of a symbol on a service.
func (c *Cache) Symbol(service, symbol string) map[string]string {
	c.mtx.RLock()
	defer c.mtx.RUnlock()

	out := make(map[string]string)
	for k, v := range c.values {
		if k.service == service && k.symbol == symbol {
			out[k.field] = v
		}
	}

	return out
}

// Len returns the number of cached field values.
func (c *Cache) Len() int {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return len(c.values)
}
