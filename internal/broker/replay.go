package broker

import (
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/socratic-shell/symposium-sub004/internal/envelope"
)

type replayEntry struct {
	env       *envelope.Envelope
	deliverAt time.Time
}

// replayBuffer retains the most recent replayable envelopes per type, so a
// freshly (re)connected peer can be brought current without replaying the
// whole history of the bus. Each type gets its own bounded LRU so one
// chatty type cannot evict another's entries; entries older than maxAge
// are filtered out at read time rather than evicted proactively, since
// golang-lru has no time-based eviction of its own.
type replayBuffer struct {
	perType      map[envelope.Tag]*lru.Cache[uint64, replayEntry]
	maxPerType   int
	maxAge       time.Duration
	now          func() time.Time
}

func newReplayBuffer(maxPerType int, maxAge time.Duration) *replayBuffer {
	return &replayBuffer{
		perType:    make(map[envelope.Tag]*lru.Cache[uint64, replayEntry]),
		maxPerType: maxPerType,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// Record appends env to its type's replay buffer. Only called for
// envelopes where envelope.Replayable(env.Type) is true.
func (r *replayBuffer) Record(env *envelope.Envelope) {
	cache := r.perType[env.Type]
	if cache == nil {
		cache, _ = lru.New[uint64, replayEntry](r.maxPerType)
		r.perType[env.Type] = cache
	}
	cache.Add(env.Seq, replayEntry{env: env, deliverAt: r.now()})
}

// Snapshot returns every still-fresh replayable envelope across all types,
// ordered by Seq, for delivery to a newly subscribed or reconnected peer.
func (r *replayBuffer) Snapshot() []*envelope.Envelope {
	cutoff := r.now().Add(-r.maxAge)
	var out []*envelope.Envelope
	for _, cache := range r.perType {
		for _, seq := range cache.Keys() {
			entry, ok := cache.Peek(seq)
			if !ok || entry.deliverAt.Before(cutoff) {
				continue
			}
			out = append(out, entry.env)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Size reports the total number of retained entries across all types, for
// the replay_buffer_size gauge.
func (r *replayBuffer) Size() int {
	n := 0
	for _, cache := range r.perType {
		n += cache.Len()
	}
	return n
}
