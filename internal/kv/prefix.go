package kv

import (
	"context"
	"strings"
)

// WithPrefix returns a view of s in which every key is transparently
// prefixed. Keys returned by the view have the prefix stripped.
//
// Closing the view does not close the underlying store; the owner of the
// physical store is responsible for that.
func WithPrefix(s Store, prefix string) Store {
	return &prefixed{inner: s, prefix: prefix}
}

type prefixed struct {
	inner  Store
	prefix string
}

func (p *prefixed) Get(ctx context.Context, key string) ([]byte, error) {
	return p.inner.Get(ctx, p.prefix+key)
}

func (p *prefixed) Put(ctx context.Context, key string, value []byte) error {
	return p.inner.Put(ctx, p.prefix+key, value)
}

func (p *prefixed) PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	return p.inner.PutIfAbsent(ctx, p.prefix+key, value)
}

func (p *prefixed) Delete(ctx context.Context, key string) (bool, error) {
	return p.inner.Delete(ctx, p.prefix+key)
}

func (p *prefixed) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys, err := p.inner.Keys(ctx, p.prefix+prefix)
	if err != nil {
		return nil, err
	}
	for i, k := range keys {
		keys[i] = strings.TrimPrefix(k, p.prefix)
	}
	return keys, nil
}

func (p *prefixed) ValueSize(ctx context.Context, key string) (int64, error) {
	return p.inner.ValueSize(ctx, p.prefix+key)
}

func (p *prefixed) Close() error { return nil }
