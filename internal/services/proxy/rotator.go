package proxy

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/mcoot/provisioner/internal/model"
)

// Rotator hands out proxies round-robin over a fixed list.
// The list is read-only; only the cursor moves, and only under mu.
type Rotator struct {
	proxies []model.ProxyCredential

	mu     sync.Mutex
	cursor int
}

// NewRotator creates a rotator over a copy of proxies
func NewRotator(proxies []model.ProxyCredential) *Rotator {
	list := make([]model.ProxyCredential, len(proxies))
	copy(list, proxies)
	return &Rotator{proxies: list}
}

// Next returns the next proxy, or nil when the list is empty
func (r *Rotator) Next() *model.ProxyCredential {
	if len(r.proxies) == 0 {
		return nil
	}
	r.mu.Lock()
	i := r.cursor
	r.cursor++
	r.mu.Unlock()

	p := At(r.proxies, i)
	return &p
}

// Len returns the number of proxies in rotation
func (r *Rotator) Len() int {
	return len(r.proxies)
}

// At is the pure assignment rule: list[index mod len(list)]
func At(list []model.ProxyCredential, index int) model.ProxyCredential {
	return list[index%len(list)]
}

// Parse reads one proxy in host:port or host:port:user:pass form
func Parse(s string) (model.ProxyCredential, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 4 {
		return model.ProxyCredential{}, fmt.Errorf("%w: proxy %q must be host:port or host:port:user:pass", model.ErrInvalidRequest, s)
	}
	if parts[0] == "" {
		return model.ProxyCredential{}, fmt.Errorf("%w: proxy %q has an empty host", model.ErrInvalidRequest, s)
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil || port <= 0 || port > 65535 {
		return model.ProxyCredential{}, fmt.Errorf("%w: proxy %q has an invalid port", model.ErrInvalidRequest, s)
	}

	p := model.ProxyCredential{Host: parts[0], Port: port}
	if len(parts) == 4 {
		p.Username = parts[2]
		p.Password = parts[3]
	}
	return p, nil
}

// ParseList parses one proxy per line, skipping blanks and # comments
func ParseList(text string) ([]model.ProxyCredential, error) {
	var out []model.ProxyCredential
	for n, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p, err := Parse(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n+1, err)
		}
		out = append(out, p)
	}
	return out, nil
}
