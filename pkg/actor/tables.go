package actor

import (
	"reflect"
	"sync"
	"sync/atomic"
)

// SubscriberID identifies a subscriber actor across every topic and type.
type SubscriberID uint64

// cleaner is the type-erased view of a per-type routing table: enough to
// remove one subscriber from it.
type cleaner interface {
	cleanupSubscriber(id SubscriberID)
}

// directory is the process-wide cross-type table. It allocates subscriber
// IDs and remembers, per subscriber, which per-type tables hold its
// entries, so cleanup visits exactly the tables the subscriber touched.
type directory struct {
	nextID atomic.Uint64

	mu       sync.Mutex
	cleaners map[SubscriberID]map[cleaner]struct{}
}

var dir = &directory{cleaners: make(map[SubscriberID]map[cleaner]struct{})}

func (d *directory) allocate() SubscriberID {
	return SubscriberID(d.nextID.Add(1))
}

func (d *directory) registerCleaner(id SubscriberID, c cleaner) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.cleaners[id]
	if !ok {
		set = make(map[cleaner]struct{})
		d.cleaners[id] = set
	}
	set[c] = struct{}{}
}

// cleanup removes the subscriber from every table it ever touched.
func (d *directory) cleanup(id SubscriberID) {
	d.mu.Lock()
	set := d.cleaners[id]
	delete(d.cleaners, id)
	d.mu.Unlock()
	for c := range set {
		c.cleanupSubscriber(id)
	}
}

// topicTable holds the routing state for one event type: which topics each
// subscriber listens on, and per topic the enqueue function of each
// subscriber.
type topicTable[T any] struct {
	mu     sync.Mutex
	topics map[SubscriberID]map[TopicID]struct{}
	routes map[TopicID]map[SubscriberID]func(*T)
}

func (t *topicTable[T]) addRoute(id SubscriberID, topic TopicID, enqueue func(*T)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.topics[id]; !ok {
		t.topics[id] = make(map[TopicID]struct{})
	}
	t.topics[id][topic] = struct{}{}
	if _, ok := t.routes[topic]; !ok {
		t.routes[topic] = make(map[SubscriberID]func(*T))
	}
	t.routes[topic][id] = enqueue
}

func (t *topicTable[T]) cleanupSubscriber(id SubscriberID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for topic := range t.topics[id] {
		delete(t.routes[topic], id)
		if len(t.routes[topic]) == 0 {
			delete(t.routes, topic)
		}
	}
	delete(t.topics, id)
}

// publish hands the shared event to every subscriber routed on the topic.
// The lock is held for the duration of the enqueue-to-all; each enqueue is
// O(1) and non-blocking, which preserves per-topic emission order in every
// subscriber's queue.
func (t *topicTable[T]) publish(topic TopicID, event *T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, enqueue := range t.routes[topic] {
		enqueue(event)
	}
}

// tables maps each event type to its singleton topicTable[T].
var tables sync.Map

func tableFor[T any]() *topicTable[T] {
	key := reflect.TypeOf((*T)(nil)).Elem()
	if v, ok := tables.Load(key); ok {
		return v.(*topicTable[T])
	}
	v, _ := tables.LoadOrStore(key, &topicTable[T]{
		topics: make(map[SubscriberID]map[TopicID]struct{}),
		routes: make(map[TopicID]map[SubscriberID]func(*T)),
	})
	return v.(*topicTable[T])
}
