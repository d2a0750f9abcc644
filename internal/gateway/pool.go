package gateway

import (
	"strings"
	"sync"

	"github.com/kitbuilder587/genstream/internal/llm"
)

type Entry struct {
	Key   string
	Index int
}

// CredentialPool holds the configured API keys and the rotation offset
// shared by every logical request of the process.
type CredentialPool struct {
	keys []string

	mu   sync.Mutex
	next int
}

// NewCredentialPool trims keys, drops blanks and duplicates, and keeps the
// first-seen order.
func NewCredentialPool(keys []string) *CredentialPool {
	seen := make(map[string]struct{}, len(keys))
	uniq := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		uniq = append(uniq, k)
	}
	return &CredentialPool{keys: uniq}
}

func (p *CredentialPool) Size() int { return len(p.keys) }

// Entries lists every key starting at the rotation offset, wrapping around.
func (p *CredentialPool) Entries() ([]Entry, error) {
	if len(p.keys) == 0 {
		return nil, &llm.Error{Kind: llm.KindConfiguration, Cause: llm.ErrNoCredentials}
	}

	p.mu.Lock()
	start := p.next
	p.mu.Unlock()

	out := make([]Entry, 0, len(p.keys))
	for off := 0; off < len(p.keys); off++ {
		i := (start + off) % len(p.keys)
		out = append(out, Entry{Key: p.keys[i], Index: i})
	}
	return out, nil
}

// Advance moves the offset past the key that just served a request.
func (p *CredentialPool) Advance(used int) {
	if len(p.keys) == 0 {
		return
	}
	p.mu.Lock()
	p.next = (used + 1) % len(p.keys)
	p.mu.Unlock()
}

// Offset returns the index the next request starts from.
func (p *CredentialPool) Offset() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.next
}
