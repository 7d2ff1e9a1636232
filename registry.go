package rtsprelay

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bluenviron/rtsprelay/pkg/liberrors"
	"github.com/bluenviron/rtsprelay/pkg/scheduler"
)

const (
	defaultMaxOutstanding = 256
	defaultSDPCacheTTL    = 60 * time.Second
)

// registryListener is a consumer of the frames of a path.
type registryListener interface {
	// relayFrame delivers a frame. It must not block.
	relayFrame(p *Session, fr relayedFrame) error

	// primeSync sends the synchronization state of the producer.
	primeSync(p *Session)

	// onProducerRemoved is called when the producer goes away.
	onProducerRemoved()

	// closeWithError asks the listener to close.
	closeWithError(err error)
}

type registryEntry struct {
	producer  atomic.Pointer[Session]
	listeners atomic.Pointer[[]registryListener]

	mutex     sync.Mutex
	sdp       []byte
	sdpExpiry time.Time
	removed   bool
}

func newRegistryEntry() *registryEntry {
	e := &registryEntry{}
	e.listeners.Store(&[]registryListener{})
	return e
}

func (e *registryEntry) cacheValid(now time.Time) bool {
	return e.sdp != nil && (e.sdpExpiry.IsZero() || now.Before(e.sdpExpiry))
}

// Registry maps paths to their producer and listeners.
// Producers publish frames into the registry, that fans them out to listeners.
type Registry struct {
	// maximum number of outstanding sends of a listener.
	// When exceeded, frames are dropped.
	// It defaults to 256.
	MaxOutstanding int

	// how long the session description of a path is kept after its producer went away.
	// A negative value keeps it forever.
	// It defaults to 60 seconds.
	SDPCacheTTL time.Duration

	// scheduler of cache evictions.
	// It defaults to a private scheduler.
	Scheduler *scheduler.Scheduler

	// destination of log entries.
	// It defaults to the standard logger.
	Logger logrus.FieldLogger

	initOnce sync.Once
	entries  sync.Map
}

func (r *Registry) initialize() {
	r.initOnce.Do(func() {
		if r.MaxOutstanding == 0 {
			r.MaxOutstanding = defaultMaxOutstanding
		}
		if r.SDPCacheTTL == 0 {
			r.SDPCacheTTL = defaultSDPCacheTTL
		}
		if r.Scheduler == nil {
			r.Scheduler = scheduler.New()
		}
		if r.Logger == nil {
			r.Logger = logrus.StandardLogger()
		}
	})
}

func (r *Registry) maxOutstanding() int {
	r.initialize()
	return r.MaxOutstanding
}

func (r *Registry) load(uri string) *registryEntry {
	v, ok := r.entries.Load(uri)
	if !ok {
		return nil
	}
	return v.(*registryEntry)
}

// SetProducer sets the producer of a path.
// A previous producer, together with its listeners, is closed.
func (r *Registry) SetProducer(uri string, s *Session) {
	r.initialize()

	for {
		v, _ := r.entries.LoadOrStore(uri, newRegistryEntry())
		e := v.(*registryEntry)

		e.mutex.Lock()
		if e.removed {
			e.mutex.Unlock()
			continue
		}

		old := e.producer.Swap(s)
		e.sdp = s.SDP()
		e.sdpExpiry = time.Time{}

		var listeners []registryListener
		if old != nil && old != s {
			listeners = *e.listeners.Load()
			e.listeners.Store(&[]registryListener{})
		}
		e.mutex.Unlock()

		if old != nil && old != s {
			r.Logger.WithField("path", uri).Warn("producer replaced")

			old.closeWithError(liberrors.ErrServerSessionReplaced{})
			for _, l := range listeners {
				l.closeWithError(liberrors.ErrServerSessionReplaced{})
			}
		} else {
			r.Logger.WithField("path", uri).Debug("producer set")
		}
		return
	}
}

// RemoveProducer removes the producer of a path, if it is s.
// Its session description stays available for the cache TTL.
func (r *Registry) RemoveProducer(uri string, s *Session) {
	r.initialize()

	e := r.load(uri)
	if e == nil {
		return
	}

	e.mutex.Lock()
	if !e.producer.CompareAndSwap(s, nil) {
		e.mutex.Unlock()
		return
	}

	if r.SDPCacheTTL > 0 {
		e.sdpExpiry = time.Now().Add(r.SDPCacheTTL)
	}
	listeners := *e.listeners.Load()
	e.mutex.Unlock()

	r.Logger.WithField("path", uri).Debug("producer removed")

	for _, l := range listeners {
		l.onProducerRemoved()
	}

	r.scheduleEviction(uri, e)
}

// AddListener adds a listener to a path.
// The path must have a producer or a cached session description.
func (r *Registry) AddListener(uri string, l registryListener) error {
	r.initialize()

	e := r.load(uri)
	if e == nil {
		return liberrors.ErrServerPathNotFound{Path: uri}
	}

	e.mutex.Lock()
	p := e.producer.Load()
	if e.removed || (p == nil && !e.cacheValid(time.Now())) {
		e.mutex.Unlock()
		return liberrors.ErrServerPathNotFound{Path: uri}
	}

	cur := *e.listeners.Load()
	next := make([]registryListener, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, l)
	e.listeners.Store(&next)
	e.mutex.Unlock()

	if p != nil {
		l.primeSync(p)
	}

	return nil
}

// RemoveListener removes a listener from a path.
func (r *Registry) RemoveListener(uri string, l registryListener) {
	r.initialize()

	e := r.load(uri)
	if e == nil {
		return
	}

	e.mutex.Lock()
	cur := *e.listeners.Load()
	next := make([]registryListener, 0, len(cur))
	for _, o := range cur {
		if o != l {
			next = append(next, o)
		}
	}
	e.listeners.Store(&next)
	idle := len(next) == 0 && e.producer.Load() == nil
	e.mutex.Unlock()

	if idle {
		r.scheduleEviction(uri, e)
	}
}

func (r *Registry) scheduleEviction(uri string, e *registryEntry) {
	if r.SDPCacheTTL < 0 {
		return
	}

	e.mutex.Lock()
	delay := time.Until(e.sdpExpiry)
	e.mutex.Unlock()

	if delay < 0 {
		delay = 0
	}

	r.Scheduler.After(delay, func() {
		r.evict(uri, e)
	})
}

func (r *Registry) evict(uri string, e *registryEntry) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.removed ||
		e.producer.Load() != nil ||
		len(*e.listeners.Load()) != 0 ||
		e.cacheValid(time.Now()) {
		return
	}

	e.removed = true
	r.entries.CompareAndDelete(uri, e)

	r.Logger.WithField("path", uri).Debug("path evicted")
}

// Relay fans out a frame of producer from to the listeners of a path.
// Frames of sessions that are not the current producer are discarded.
// A listener that fails is closed and removed without affecting the others.
func (r *Registry) Relay(uri string, from *Session, fr relayedFrame) {
	e := r.load(uri)
	if e == nil || e.producer.Load() != from {
		return
	}

	for _, l := range *e.listeners.Load() {
		err := deliver(l, from, fr)
		if err != nil {
			r.Logger.WithField("path", uri).WithError(err).Warn("listener failed")
			r.RemoveListener(uri, l)
			l.closeWithError(liberrors.ErrServerListenerFailed{Err: err})
		}
	}
}

func deliver(l registryListener, from *Session, fr relayedFrame) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("panic: %v", v)
		}
	}()
	return l.relayFrame(from, fr)
}

// Describe returns the session description of a path.
func (r *Registry) Describe(uri string) ([]byte, error) {
	r.initialize()

	e := r.load(uri)
	if e == nil {
		return nil, liberrors.ErrServerPathNotFound{Path: uri}
	}

	if p := e.producer.Load(); p != nil {
		return p.SDP(), nil
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.removed || !e.cacheValid(time.Now()) {
		return nil, liberrors.ErrServerPathNotFound{Path: uri}
	}
	return e.sdp, nil
}

// Producer returns the producer of a path, or nil.
func (r *Registry) Producer(uri string) *Session {
	e := r.load(uri)
	if e == nil {
		return nil
	}
	return e.producer.Load()
}

// Listeners returns the number of listeners of a path.
func (r *Registry) Listeners(uri string) int {
	e := r.load(uri)
	if e == nil {
		return 0
	}
	return len(*e.listeners.Load())
}

// Paths returns the paths that can be read, sorted.
func (r *Registry) Paths() []string {
	r.initialize()
	now := time.Now()

	var ret []string
	r.entries.Range(func(k, v interface{}) bool {
		e := v.(*registryEntry)
		if e.producer.Load() != nil {
			ret = append(ret, k.(string))
			return true
		}

		e.mutex.Lock()
		valid := !e.removed && e.cacheValid(now)
		e.mutex.Unlock()

		if valid {
			ret = append(ret, k.(string))
		}
		return true
	})

	sort.Strings(ret)
	return ret
}
