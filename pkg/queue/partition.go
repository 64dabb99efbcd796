package queue

import (
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// DefaultPrefix namespaces every store key written by the manager.
const DefaultPrefix = "taskmanager"

// Partition maps a task ID onto one of count partitions.
func Partition(taskID string, count int) int {
	if count <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(taskID) % uint64(count))
}

// Score orders tasks inside a queue, earlier submission first. Priority is
// part of the queue key, so it takes no part in the score. Microsecond
// values stay exact in a float64.
func Score(submittedAt time.Time) float64 {
	return float64(submittedAt.UnixMicro())
}

// sequencer hands out strictly increasing scores so that tasks submitted by
// one process within the same microsecond keep their submission order. Equal
// scores would otherwise be ordered by payload bytes.
type sequencer struct {
	mu   sync.Mutex
	last int64
}

func (s *sequencer) next(t time.Time) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	us := max(int64(Score(t)), s.last+1)
	s.last = us
	return float64(us)
}

// QueueKey identifies one sorted set in the store.
type QueueKey struct {
	Priority   Priority
	WorkerType WorkerType
	Partition  int

	name string
}

// String renders the store key.
func (k QueueKey) String() string { return k.name }

func newQueueKey(prefix string, p Priority, wt WorkerType, partition int) QueueKey {
	return QueueKey{
		Priority:   p,
		WorkerType: wt,
		Partition:  partition,
		name:       fmt.Sprintf("%s:queue:%d:%s:%d", prefix, p, wt, partition),
	}
}

// Router maps tasks onto queue keys. The full key space is computed once.
type Router struct {
	prefix     string
	partitions int
	keys       []QueueKey
	byType     map[WorkerType][]QueueKey
}

// NewRouter precomputes every priority × worker type × partition key.
func NewRouter(prefix string, partitions int) *Router {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if partitions < 1 {
		partitions = 1
	}

	r := &Router{
		prefix:     prefix,
		partitions: partitions,
		byType:     make(map[WorkerType][]QueueKey, len(workerTypes)),
	}
	for _, wt := range workerTypes {
		keys := make([]QueueKey, 0, len(priorityNames)*partitions)
		for _, p := range Priorities() {
			for n := range partitions {
				keys = append(keys, newQueueKey(prefix, p, wt, n))
			}
		}
		r.byType[wt] = keys
		r.keys = append(r.keys, keys...)
	}
	return r
}

// Prefix returns the key namespace.
func (r *Router) Prefix() string { return r.prefix }

// Partitions returns the partition count.
func (r *Router) Partitions() int { return r.partitions }

// QueueKey returns the key a task with the given attributes is pushed to.
func (r *Router) QueueKey(p Priority, wt WorkerType, taskID string) QueueKey {
	part := Partition(taskID, r.partitions)
	if keys, ok := r.byType[wt]; ok && p.Valid() {
		return keys[int(p)*r.partitions+part]
	}
	return newQueueKey(r.prefix, p, wt, part)
}

// Keys returns the whole key space.
func (r *Router) Keys() []QueueKey {
	out := make([]QueueKey, len(r.keys))
	copy(out, r.keys)
	return out
}

// KeysFor returns the keys of one worker type, most urgent first, then by
// partition.
func (r *Router) KeysFor(wt WorkerType) []QueueKey {
	keys := r.byType[wt]
	out := make([]QueueKey, len(keys))
	copy(out, keys)
	return out
}

// DelayedKey holds retries and scheduled tasks until they are due.
func (r *Router) DelayedKey(wt WorkerType) string {
	return r.prefix + ":delayed:" + string(wt)
}

func (r *Router) DeadLetterKey(wt WorkerType) string {
	return r.prefix + ":dlq:" + string(wt)
}

// NotifyTopic is the pub/sub channel used to wake idle workers.
func (r *Router) NotifyTopic() string {
	return r.prefix + ":notify"
}

func (r *Router) CancelKey(taskID string) string {
	return r.prefix + ":cancel:" + taskID
}

func (r *Router) lockPrefix() string {
	return r.prefix + ":lock"
}
