package approval

import (
	"sort"
	"strings"
	"sync"

	"github.com/samber/lo"
)

const (
	patchKeyNone   = "patch:none"
	execKeyUnknown = "unknown:"
)

// Stats counts cached decisions across all threads.
type Stats struct {
	Exec  int
	Patch int
}

// Cache remembers "approve for session" decisions per thread. The zero
// value is not usable; call NewCache.
type Cache struct {
	mu    sync.RWMutex
	exec  map[string]map[string]Decision
	patch map[string]map[string]Decision
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{
		exec:  make(map[string]map[string]Decision),
		patch: make(map[string]map[string]Decision),
	}
}

// CheckExec returns the cached decision for a command run in cwd.
func (c *Cache) CheckExec(threadID string, command []string, cwd string) (Decision, bool) {
	return c.lookup(c.exec, threadID, execKey(command, cwd))
}

// CacheExec stores decision if it is ApprovedForSession. Any other
// decision is ignored.
func (c *Cache) CacheExec(threadID string, command []string, cwd string, decision Decision) {
	c.store(c.exec, threadID, execKey(command, cwd), decision)
}

// CheckPatch returns the cached decision for a patch touching files.
func (c *Cache) CheckPatch(threadID string, files []string) (Decision, bool) {
	return c.lookup(c.patch, threadID, patchKey(files))
}

// CachePatch stores decision if it is ApprovedForSession.
func (c *Cache) CachePatch(threadID string, files []string, decision Decision) {
	c.store(c.patch, threadID, patchKey(files), decision)
}

// ClearThread forgets every decision for one thread.
func (c *Cache) ClearThread(threadID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.exec, threadID)
	delete(c.patch, threadID)
}

// Clear forgets everything.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.exec)
	clear(c.patch)
}

// Stats returns the number of cached entries.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	count := func(m map[string]map[string]Decision) int {
		return lo.SumBy(lo.Values(m), func(keys map[string]Decision) int { return len(keys) })
	}
	return Stats{Exec: count(c.exec), Patch: count(c.patch)}
}

func (c *Cache) lookup(m map[string]map[string]Decision, threadID, key string) (Decision, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := m[threadID][key]
	return d, ok
}

func (c *Cache) store(m map[string]map[string]Decision, threadID, key string, decision Decision) {
	if decision != ApprovedForSession {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	keys, ok := m[threadID]
	if !ok {
		keys = make(map[string]Decision)
		m[threadID] = keys
	}
	keys[key] = Approved
}

// execKey is the lower-cased, trimmed tokens joined by spaces, then "@cwd".
func execKey(command []string, cwd string) string {
	if len(command) == 0 {
		return execKeyUnknown + cwd
	}
	tokens := lo.Map(command, func(tok string, _ int) string {
		return strings.ToLower(strings.TrimSpace(tok))
	})
	return strings.Join(tokens, " ") + "@" + cwd
}

// patchKey is the trimmed, de-duplicated, sorted paths joined by "|".
func patchKey(files []string) string {
	if len(files) == 0 {
		return patchKeyNone
	}
	paths := lo.Uniq(lo.Map(files, func(p string, _ int) string { return strings.TrimSpace(p) }))
	sort.Strings(paths)
	return strings.Join(paths, "|")
}
