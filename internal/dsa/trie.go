// Package dsa provides the path index used by the workspace.
// Uses go-radix for a compressed prefix tree (radix tree).
package dsa

import (
	"github.com/armon/go-radix"
)

// Trie is a set of slash-separated relative paths backed by a radix tree.
// Directory removal maps onto a prefix delete, and walks come back sorted.
//
// Time Complexity: O(k) per lookup where k is key length.
type Trie struct {
	tree *radix.Tree
}

// NewTrie creates a new empty radix tree.
func NewTrie() *Trie {
	return &Trie{
		tree: radix.New(),
	}
}

// Insert adds a key. Inserting an existing key is a no-op.
func (t *Trie) Insert(key string) {
	t.tree.Insert(key, struct{}{})
}

// Contains checks if a key exists in the tree.
func (t *Trie) Contains(key string) bool {
	_, found := t.tree.Get(key)
	return found
}

// Delete removes a key from the tree.
// Returns true if the key was found and deleted.
func (t *Trie) Delete(key string) bool {
	_, deleted := t.tree.Delete(key)
	return deleted
}

// DeletePrefix removes every key starting with prefix and returns how many went.
func (t *Trie) DeletePrefix(prefix string) int {
	return t.tree.DeletePrefix(prefix)
}

// Keys returns all keys in sorted order.
func (t *Trie) Keys() []string {
	keys := make([]string, 0, t.tree.Len())
	t.tree.Walk(func(k string, _ interface{}) bool {
		keys = append(keys, k)
		return false
	})
	return keys
}
