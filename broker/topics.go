package broker

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
)

const (
	// swc matches exactly one element
	swc = "*"

	// mwc matches one or more trailing elements
	mwc = ">"

	// zwc matches zero or more trailing elements
	zwc = "+"

	sep = "."
)

// nolint: golint
var (
	ErrInvalidTopic = errors.New("broker: invalid topic")
	ErrNotFound     = errors.New("broker: subscription not found")
)

type subscriber interface {
	Hash() uint64
}

type subscribers map[uint64]subscriber

type node struct {
	subs     subscribers
	parent   *node
	children map[string]*node
}

func newNode(parent *node) *node {
	return &node{
		subs:     make(subscribers),
		children: make(map[string]*node),
		parent:   parent,
	}
}

// topics subscription tree keyed by subject elements
type topics struct {
	lock sync.RWMutex
	root *node
}

func newTopics() *topics {
	return &topics{
		root: newNode(nil),
	}
}

// validateFilter subscription pattern. Trailing wildcards allowed in last element only
func validateFilter(filter string) ([]string, error) {
	if len(filter) == 0 {
		return nil, errors.Wrap(ErrInvalidTopic, "empty")
	}

	levels := strings.Split(filter, sep)

	for i, l := range levels {
		switch l {
		case "":
			return nil, errors.Wrapf(ErrInvalidTopic, "%q: empty element", filter)
		case mwc, zwc:
			if i != len(levels)-1 {
				return nil, errors.Wrapf(ErrInvalidTopic, "%q: %s must be last", filter, l)
			}
		}
	}

	return levels, nil
}

// validateSubject subject of published message. No wildcards allowed
func validateSubject(subject string) ([]string, error) {
	if len(subject) == 0 {
		return nil, errors.Wrap(ErrInvalidTopic, "empty")
	}

	levels := strings.Split(subject, sep)

	for _, l := range levels {
		switch l {
		case "":
			return nil, errors.Wrapf(ErrInvalidTopic, "%q: empty element", subject)
		case swc, mwc, zwc:
			return nil, errors.Wrapf(ErrInvalidTopic, "%q: wildcard in subject", subject)
		}
	}

	return levels, nil
}

// subscribe returns true if subscriber already had this filter
func (t *topics) subscribe(filter string, s subscriber) (bool, error) {
	levels, err := validateFilter(filter)
	if err != nil {
		return false, err
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	root := t.root

	for _, level := range levels {
		n, ok := root.children[level]
		if !ok {
			n = newNode(root)
			root.children[level] = n
		}

		root = n
	}

	_, exists := root.subs[s.Hash()]
	root.subs[s.Hash()] = s

	return exists, nil
}

func (t *topics) unsubscribe(filter string, s subscriber) error {
	levels, err := validateFilter(filter)
	if err != nil {
		return err
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	root := t.root

	for _, level := range levels {
		n, ok := root.children[level]
		if !ok {
			return ErrNotFound
		}

		root = n
	}

	if _, ok := root.subs[s.Hash()]; !ok {
		return ErrNotFound
	}

	delete(root.subs, s.Hash())

	// walk up removing nodes left without subscribers and children
	level := len(levels)
	for leaf := root; leaf.parent != nil; leaf = leaf.parent {
		if len(leaf.subs) != 0 || len(leaf.children) != 0 {
			break
		}

		delete(leaf.parent.children, levels[level-1])
		level--
	}

	return nil
}

// search subscribers matching subject. Each subscriber appears once
func (t *topics) search(subject string) ([]subscriber, error) {
	levels, err := validateSubject(subject)
	if err != nil {
		return nil, err
	}

	found := make(subscribers)

	t.lock.RLock()
	recurseSearch(t.root, levels, found)
	t.lock.RUnlock()

	res := make([]subscriber, 0, len(found))
	for _, s := range found {
		res = append(res, s)
	}

	return res, nil
}

func recurseSearch(root *node, levels []string, found subscribers) {
	if n, ok := root.children[zwc]; ok {
		n.collect(found)
	}

	if len(levels) == 0 {
		root.collect(found)
		return
	}

	if n, ok := root.children[mwc]; ok {
		n.collect(found)
	}

	if n, ok := root.children[levels[0]]; ok {
		recurseSearch(n, levels[1:], found)
	}

	if n, ok := root.children[swc]; ok {
		recurseSearch(n, levels[1:], found)
	}
}

func (n *node) collect(found subscribers) {
	for id, s := range n.subs {
		found[id] = s
	}
}

// empty either tree holds no subscriptions
func (t *topics) empty() bool {
	t.lock.RLock()
	defer t.lock.RUnlock()

	return len(t.root.children) == 0
}
