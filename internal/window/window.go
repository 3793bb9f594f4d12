// Package window implements the in-memory sliding conversation window the
// Retriever includes in its agent prompt.
package window

import (
	"container/list"
	"strings"
	"sync"

	"github.com/dotcommander/cogsidecar/internal/models"
)

const noPriorConversation = "(no prior conversation)"

// Window is a bounded, ordered sequence of entries trimmed to the last N
// pairs. Entries are immutable once appended; only the oldest are dropped.
// A direct simplification of a per-scope LRU store: one scope (the session),
// eviction-from-back-on-insert, no TTL.
type Window struct {
	mu       sync.Mutex
	maxPairs int
	entries  *list.List // front = oldest, back = newest
}

// New returns a Window retaining up to maxPairs user/assistant-summary pairs
// (2*maxPairs entries). maxPairs <= 0 is treated as 1.
func New(maxPairs int) *Window {
	if maxPairs <= 0 {
		maxPairs = 1
	}
	return &Window{
		maxPairs: maxPairs,
		entries:  list.New(),
	}
}

// Append adds an entry to the back of the window, evicting from the front
// until the window holds at most 2*maxPairs entries.
func (w *Window) Append(role models.WindowRole, text string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.entries.PushBack(models.WindowEntry{Role: role, Text: text})

	maxEntries := w.maxPairs * 2
	for w.entries.Len() > maxEntries {
		w.entries.Remove(w.entries.Front())
	}
}

// Entries returns a snapshot of the window's entries, oldest first.
func (w *Window) Entries() []models.WindowEntry {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]models.WindowEntry, 0, w.entries.Len())
	for e := w.entries.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(models.WindowEntry))
	}
	return out
}

// Len returns the number of entries currently held.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.entries.Len()
}

// Format renders the window as newline-joined, role-prefixed lines for
// inclusion in a retrieval/compaction prompt. An empty window renders the
// fixed placeholder so callers never send an empty context block.
func (w *Window) Format() string {
	entries := w.Entries()
	if len(entries) == 0 {
		return noPriorConversation
	}

	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		switch e.Role {
		case models.WindowRoleUser:
			b.WriteString("[USER] ")
		case models.WindowRoleAssistantSummary:
			b.WriteString("[ASSISTANT] ")
		}
		b.WriteString(e.Text)
	}
	return b.String()
}
