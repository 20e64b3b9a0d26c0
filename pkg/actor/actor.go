package actor

import (
	"fmt"
	"sync"

	"github.com/Phillezi/lifetime/pkg/lifetime"
	"github.com/Phillezi/lifetime/pkg/metric"
)

// Worker is the behavior bound to a subscriber actor. Event handlers are
// wired per topic with Handle; the two hooks below frame the consumer
// loop.
type Worker interface {
	// OnBatchDone runs after each drained batch, before waiting again.
	OnBatchDone()
	// OnShutdown runs once, on the consumer goroutine, before it exits.
	OnShutdown()
}

// Scope is the type-erased handle to a subscriber actor. Closing it
// unsubscribes from every topic, stops the consumer and joins it.
type Scope interface {
	Close()
}

// fifoQueue is the actor's inbox: producers append under the lock, the
// consumer takes the whole buffer and processes it outside the lock.
type fifoQueue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	done  bool
	items []func()
}

func newFifoQueue() *fifoQueue {
	q := &fifoQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *fifoQueue) push(fn func()) {
	q.mu.Lock()
	q.items = append(q.items, fn)
	q.mu.Unlock()
	q.cond.Signal()
}

func (q *fifoQueue) markDone() {
	q.mu.Lock()
	q.done = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// take blocks until the queue is done or non-empty. Done wins over pending
// items.
func (q *fifoQueue) take() (batch []func(), done bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for !q.done && len(q.items) == 0 {
		q.cond.Wait()
	}
	if q.done {
		return nil, true
	}
	batch = q.items
	q.items = nil
	return batch, false
}

// Actor is a subscriber actor: a worker plus its serial consumer
// goroutine. It is created by Spawn, wired to topics with Handle, and torn
// down by Close.
type Actor[W Worker] struct {
	id     SubscriberID
	worker W
	queue  *fifoQueue
	mgr    *lifetime.ManagerImpl

	cancelShutdown func()
	joined         chan struct{}
	closeOnce      sync.Once
}

type config struct {
	mgr *lifetime.ManagerImpl
}

// Option configures Spawn.
type Option func(*config)

// WithManager binds the actor to a specific lifetime manager instead of
// the process-wide default.
func WithManager(m *lifetime.ManagerImpl) Option {
	return func(c *config) { c.mgr = m }
}

// Spawn creates a subscriber actor around worker and starts its consumer
// goroutine. The actor is not yet wired to any topic; chain Handle calls
// to route events to it. The consumer observes the shutdown signal and
// tears down once it latches.
func Spawn[W Worker](worker W, opts ...Option) *Actor[W] {
	cfg := config{mgr: lifetime.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	a := &Actor[W]{
		id:     dir.allocate(),
		worker: worker,
		queue:  newFifoQueue(),
		mgr:    cfg.mgr,
		joined: make(chan struct{}),
	}
	a.cancelShutdown = a.mgr.NotifyOnShutdown(a.queue.markDone)
	metric.Default().SubscribersLive.Inc()
	go a.consume()
	return a
}

func (a *Actor[W]) consume() {
	defer close(a.joined)
	for {
		batch, done := a.queue.take()
		if done {
			a.worker.OnShutdown()
			return
		}
		for _, fn := range batch {
			a.invoke(fn)
		}
		a.worker.OnBatchDone()
	}
}

// invoke runs one event handler. A panicking handler must not take down
// its peers, so the panic is contained and routed to the logger sink.
func (a *Actor[W]) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			a.mgr.Log(fmt.Sprintf("Recovered panic in subscriber %d handler: %v", a.id, r))
		}
	}()
	fn()
}

// Worker returns the actor's worker.
func (a *Actor[W]) Worker() W { return a.worker }

// Close unsubscribes the actor from every topic, detaches it from the
// shutdown signal, stops the consumer and joins it. Events emitted after
// Close returns are never delivered. Close is idempotent.
func (a *Actor[W]) Close() {
	a.closeOnce.Do(func() {
		dir.cleanup(a.id)
		a.cancelShutdown()
		a.queue.markDone()
		<-a.joined
		metric.Default().SubscribersLive.Dec()
	})
}

// Handle routes events published on topic to fn, invoked on the actor's
// consumer goroutine with the actor's worker. It returns the actor so
// subscriptions chain:
//
//	a := actor.Handle(actor.Handle(actor.Spawn(w), timer, (*W).OnTimer), input, (*W).OnInput)
func Handle[T any, W Worker](a *Actor[W], topic Topic[T], fn func(w W, event *T)) *Actor[W] {
	tbl := tableFor[T]()
	dir.registerCleaner(a.id, tbl)
	tbl.addRoute(a.id, topic.ID(), func(event *T) {
		a.queue.push(func() { fn(a.worker, event) })
		metric.Default().EventsDelivered.Inc()
	})
	return a
}

// Emit publishes an already-allocated event to every subscriber of the
// topic. The payload is shared across subscribers and must be treated as
// immutable from the moment of emission.
func Emit[T any](topic Topic[T], event *T) {
	metric.Default().EventsEmitted.WithLabelValues(topic.Name()).Inc()
	tableFor[T]().publish(topic.ID(), event)
}

// EmitTo allocates the shared payload once and publishes it. Emitting to a
// topic with no subscribers is a no-op.
func EmitTo[T any](topic Topic[T], event T) {
	Emit(topic, &event)
}
