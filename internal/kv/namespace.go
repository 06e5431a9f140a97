package kv

import (
	"context"
	"strings"
)

// Namespaced scopes every operation of an underlying Store under a prefix.
// Clear only removes keys inside the namespace.
type Namespaced struct {
	inner  Store
	prefix string
}

// Namespace returns a view of s whose keys are stored as "<ns>:<key>".
func Namespace(s Store, ns string) *Namespaced {
	return &Namespaced{inner: s, prefix: ns + ":"}
}

func (n *Namespaced) Get(ctx context.Context, key string) ([]byte, error) {
	return n.inner.Get(ctx, n.prefix+key)
}

func (n *Namespaced) Set(ctx context.Context, key string, value []byte) error {
	return n.inner.Set(ctx, n.prefix+key, value)
}

func (n *Namespaced) Delete(ctx context.Context, key string) error {
	return n.inner.Delete(ctx, n.prefix+key)
}

func (n *Namespaced) List(ctx context.Context) (map[string][]byte, error) {
	all, err := n.inner.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte)
	for k, v := range all {
		if rest, ok := strings.CutPrefix(k, n.prefix); ok {
			out[rest] = v
		}
	}
	return out, nil
}

func (n *Namespaced) Clear(ctx context.Context) error {
	all, err := n.List(ctx)
	if err != nil {
		return err
	}
	for k := range all {
		if err := n.inner.Delete(ctx, n.prefix+k); err != nil {
			return err
		}
	}
	return nil
}
