package connection

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// nolint: golint
const (
	DefaultFilterSize = 10000
	DefaultFilterTTL  = time.Minute
)

// UniqueFilter remembers recently seen message IDs
type UniqueFilter struct {
	lock sync.Mutex
	seen *expirable.LRU[string, struct{}]
}

// NewUniqueFilter filter holding up to size IDs, each for ttl
func NewUniqueFilter(size int, ttl time.Duration) *UniqueFilter {
	if size <= 0 {
		size = DefaultFilterSize
	}

	if ttl <= 0 {
		ttl = DefaultFilterTTL
	}

	return &UniqueFilter{
		seen: expirable.NewLRU[string, struct{}](size, nil, ttl),
	}
}

// Update reports true when id has not been seen yet and records it.
// Check and insert happen as one step. Empty id is never filtered
func (f *UniqueFilter) Update(id string) bool {
	if len(id) == 0 {
		return true
	}

	f.lock.Lock()
	defer f.lock.Unlock()

	if _, ok := f.seen.Get(id); ok {
		return false
	}

	f.seen.Add(id, struct{}{})

	return true
}

// Len number of remembered IDs
func (f *UniqueFilter) Len() int {
	return f.seen.Len()
}
