package client

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"

	"github.com/keeldb/keel/wire"
)

// Pool errors.
var (
	ErrAcquireTimeout = errors.New("timeout on acquiring a connection from the pool")
	ErrPoolGone       = errors.New("connection cannot be released because the pool does not exist anymore")
)

// DefaultMaxPool is the per-URL channel cap used when none is
// configured.
const DefaultMaxPool = 8

type channelState uint8

const (
	stateIdle channelState = iota
	stateBorrowed
)

// resourcePool is the bounded pool of channels for one URL. The
// semaphore is held while a channel is borrowed or being dialed.
type resourcePool struct {
	url string
	max int
	sem chan struct{}

	lock  sync.Mutex
	idle  []*Channel
	known map[*Channel]channelState
}

func newResourcePool(url string, max int) *resourcePool {
	return &resourcePool{
		url:   url,
		max:   max,
		sem:   make(chan struct{}, max),
		known: make(map[*Channel]channelState),
	}
}

func (p *resourcePool) acquire(timeout time.Duration, cfg Config, mgr *Manager) (*Channel, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case p.sem <- struct{}{}:
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s after %s", ErrAcquireTimeout, p.url, timeout)
	}

	// prefer an idle channel; dead ones are discarded
	p.lock.Lock()
	for len(p.idle) > 0 {
		ch := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if !ch.IsConnected() {
			delete(p.known, ch)
			continue
		}
		p.known[ch] = stateBorrowed
		p.lock.Unlock()
		return ch, nil
	}
	p.lock.Unlock()

	ch, err := Dial(p.url, cfg)
	if err != nil {
		<-p.sem
		return nil, err
	}
	// the pool listens on every channel it hands out, so closed
	// channels are evicted wherever the close originates
	ch.RegisterCloseListener(func(*wire.Channel) {
		mgr.evict(ch)
	})

	p.lock.Lock()
	p.known[ch] = stateBorrowed
	p.lock.Unlock()
	return ch, nil
}

// release returns a borrowed channel. Releasing an idle or unknown
// channel is a no-op.
func (p *resourcePool) release(ch *Channel) {
	p.lock.Lock()
	state, ok := p.known[ch]
	if !ok || state == stateIdle {
		p.lock.Unlock()
		return
	}
	if !ch.IsConnected() {
		delete(p.known, ch)
		p.lock.Unlock()
		<-p.sem
		logrus.Debugf("client: pool %s received a closed connection to reuse: discarded", p.url)
		return
	}
	p.known[ch] = stateIdle
	p.idle = append(p.idle, ch)
	p.lock.Unlock()
	<-p.sem
}

// remove evicts a channel regardless of state. Idempotent.
func (p *resourcePool) remove(ch *Channel) {
	p.lock.Lock()
	state, ok := p.known[ch]
	if !ok {
		p.lock.Unlock()
		return
	}
	delete(p.known, ch)
	if state == stateIdle {
		for i, idle := range p.idle {
			if idle == ch {
				p.idle = append(p.idle[:i], p.idle[i+1:]...)
				break
			}
		}
	}
	p.lock.Unlock()
	if state == stateBorrowed {
		<-p.sem
	}
}

func (p *resourcePool) channels() []*Channel {
	p.lock.Lock()
	defer p.lock.Unlock()

	all := make([]*Channel, 0, len(p.known))
	for ch := range p.known {
		all = append(all, ch)
	}
	return all
}

func (p *resourcePool) available() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.idle)
}

func (p *resourcePool) created() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.known)
}

// A Manager multiplexes the per-URL channel pools. All methods are safe
// for concurrent use.
type Manager struct {
	pools     *xsync.MapOf[string, *resourcePool]
	maxPerURL int
	timeout   time.Duration
}

// NewManager returns a pool manager with the given per-URL cap and
// acquire timeout.
func NewManager(maxPerURL int, timeout time.Duration) *Manager {
	if maxPerURL <= 0 {
		maxPerURL = DefaultMaxPool
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Manager{
		pools:     xsync.NewMapOf[string, *resourcePool](),
		maxPerURL: maxPerURL,
		timeout:   timeout,
	}
}

// Acquire borrows a channel for the URL, dialing a fresh one when the
// pool has capacity, waiting up to the configured timeout otherwise.
// On any retrieval error the per-URL pool is dropped so the next
// caller reconstructs it.
func (m *Manager) Acquire(url string, cfg Config) (*Channel, error) {
	pool, ok := m.pools.Load(url)
	if !ok {
		max := m.maxPerURL
		if cfg.MaxPool > 0 {
			max = cfg.MaxPool
		}
		fresh := newResourcePool(url, max)
		actual, loaded := m.pools.LoadOrStore(url, fresh)
		if loaded {
			// lost the race; the spare pool holds no channels yet
			pool = actual
		} else {
			pool = fresh
		}
	}

	ch, err := pool.acquire(m.timeout, cfg, m)
	if err != nil {
		m.pools.Delete(url)
		return nil, err
	}
	return ch, nil
}

// Release returns a borrowed channel to its pool. Closed channels are
// discarded instead of reused.
func (m *Manager) Release(ch *Channel) {
	pool, ok := m.pools.Load(ch.URL())
	if !ok {
		return
	}
	pool.release(ch)
}

// Remove unlocks and closes a channel and always evicts it from its
// pool. Removing a channel whose pool no longer exists fails.
func (m *Manager) Remove(ch *Channel) error {
	if ch.IsConnected() {
		ch.Unlock()
		if err := ch.Close(); err != nil {
			logrus.Debugf("client: error closing removed channel %s: %s", ch.URL(), err)
		}
	}

	pool, ok := m.pools.Load(ch.URL())
	if !ok {
		return fmt.Errorf("%w: %s", ErrPoolGone, ch.URL())
	}
	pool.remove(ch)
	return nil
}

// evict drops a closed channel from its pool, if the pool still
// exists.
func (m *Manager) evict(ch *Channel) {
	pool, ok := m.pools.Load(ch.URL())
	if !ok {
		return
	}
	pool.remove(ch)
}

// URLs lists the URLs with a live pool.
func (m *Manager) URLs() []string {
	var urls []string
	m.pools.Range(func(url string, _ *resourcePool) bool {
		urls = append(urls, url)
		return true
	})
	return urls
}

// MaxResources returns the channel cap for a URL, 0 when no pool
// exists.
func (m *Manager) MaxResources(url string) int {
	pool, ok := m.pools.Load(url)
	if !ok {
		return 0
	}
	return pool.max
}

// Available returns the number of idle channels for a URL.
func (m *Manager) Available(url string) int {
	pool, ok := m.pools.Load(url)
	if !ok {
		return 0
	}
	return pool.available()
}

// Created returns the number of live channels for a URL.
func (m *Manager) Created(url string) int {
	pool, ok := m.pools.Load(url)
	if !ok {
		return 0
	}
	return pool.created()
}

// ClosePool closes all channels of one URL and drops the pool.
func (m *Manager) ClosePool(url string) {
	pool, ok := m.pools.LoadAndDelete(url)
	if !ok {
		return
	}
	for _, ch := range pool.channels() {
		pool.remove(ch)
		_ = ch.Close()
	}
}

// Close drains every pool. Subsequent acquires dial fresh pools.
func (m *Manager) Close() error {
	var errs *multierror.Error
	m.pools.Range(func(url string, pool *resourcePool) bool {
		for _, ch := range pool.channels() {
			pool.remove(ch)
			if err := ch.Close(); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
		m.pools.Delete(url)
		return true
	})
	return errs.ErrorOrNil()
}
