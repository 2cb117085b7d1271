// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import "sync"

// catalog is the list of selectable models. Remote entries keep their order;
// Ollama entries are always appended after them.
type catalog struct {
	mu     sync.RWMutex
	remote []string
	local  []string
}

func newCatalog(remote []string) *catalog {
	c := &catalog{}
	c.setRemote(remote)
	return c
}

// list returns a copy of the full catalog.
func (c *catalog) list() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.remote)+len(c.local))
	out = append(out, c.remote...)
	out = append(out, c.local...)
	return out
}

// setRemote replaces the non-Ollama entries. Prefixed names are dropped.
func (c *catalog) setRemote(models []string) {
	remote := make([]string, 0, len(models))
	seen := make(map[string]bool)
	for _, m := range models {
		if m == "" || IsOllama(m) || seen[m] {
			continue
		}
		seen[m] = true
		remote = append(remote, m)
	}
	c.mu.Lock()
	c.remote = remote
	c.mu.Unlock()
}

// setLocal replaces the Ollama entries with the given model names.
func (c *catalog) setLocal(names []string) {
	local := make([]string, 0, len(names))
	seen := make(map[string]bool)
	for _, n := range names {
		sel := OllamaSelector(n)
		if n == "" || seen[sel] {
			continue
		}
		seen[sel] = true
		local = append(local, sel)
	}
	c.mu.Lock()
	c.local = local
	c.mu.Unlock()
}

// clearLocal strips every Ollama entry.
func (c *catalog) clearLocal() {
	c.mu.Lock()
	c.local = nil
	c.mu.Unlock()
}

// firstRemote returns the first non-Ollama entry.
func (c *catalog) firstRemote() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.remote) == 0 {
		return "", false
	}
	return c.remote[0], true
}
