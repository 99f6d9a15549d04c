package routeros

import (
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/nursadev/routeros/proto"
)

// tagRouter owns the map from tag to subscriber callback (spec component
// L5) and the monotonic tag allocator (spec §5: tags are never reused
// within a connection's lifetime).
type tagRouter struct {
	mu      sync.Mutex
	counter uint64
	subs    map[string]func(proto.Sentence)
	// onUnregistered is invoked (outside the lock) when a sentence
	// arrives tagged with an unknown tag; it surfaces ErrUnregisteredTag
	// as a non-fatal connection event without affecting other tags.
	onUnregistered func(tag string, s proto.Sentence)
}

func newTagRouter() *tagRouter {
	return &tagRouter{subs: make(map[string]func(proto.Sentence))}
}

// nextTag allocates a fresh, never-reused tag rendered in base36, as
// called for by spec §3/§5.
func (tr *tagRouter) nextTag() string {
	tr.mu.Lock()
	tr.counter++
	n := tr.counter
	tr.mu.Unlock()
	return strconv.FormatUint(n, 36)
}

// nextCancelTag allocates a tag for the in-band /cancel side-channel
// (spec §4.7). A UUID suffix is appended so that the cancel tag can
// never collide with a counter-allocated command tag even across
// process restarts sharing a log, though uniqueness within one
// connection only requires the counter.
func (tr *tagRouter) nextCancelTag() string {
	return tr.nextTag() + "-cancel-" + uuid.NewString()[:8]
}

func (tr *tagRouter) subscribe(tag string, cb func(proto.Sentence)) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.subs[tag] = cb
}

func (tr *tagRouter) unsubscribe(tag string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	delete(tr.subs, tag)
}

// route dispatches a received sentence to its tag's subscriber. Sentences
// without a .tag word are routed to the global channel via onGlobal.
// An unknown tag invokes onUnregistered and drops the sentence; the
// connection remains viable.
func (tr *tagRouter) route(s proto.Sentence, onGlobal func(proto.Sentence)) {
	tag, ok := s.Tag()
	if !ok {
		onGlobal(s)
		return
	}
	tr.mu.Lock()
	cb, found := tr.subs[tag]
	tr.mu.Unlock()
	if !found {
		if tr.onUnregistered != nil {
			tr.onUnregistered(tag, s)
		}
		return
	}
	cb(s)
}

// fatalAll invokes every live subscriber with a synthetic !fatal
// sentence and clears the map, used when the transport is lost (spec
// §4.6/§7: transport errors propagate as synthetic !fatal to every open
// channel/stream).
func (tr *tagRouter) fatalAll(reason string) {
	tr.mu.Lock()
	subs := tr.subs
	tr.subs = make(map[string]func(proto.Sentence))
	tr.mu.Unlock()

	fatal := proto.Sentence{Words: []string{proto.ReplyFatal, reason}}
	for _, cb := range subs {
		cb(fatal)
	}
}
