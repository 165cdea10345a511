package fetch

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// hostSlot is the semaphore for one host and the number of callers holding or waiting on it
type hostSlot struct {
	sem  *semaphore.Weighted
	refs int
}

// HostSemaphorePool bounds concurrent link probes per target host.
// One pool is shared by every probe handler so the limit holds across clients.
// A host's slot is dropped as soon as nobody holds or waits on it.
type HostSemaphorePool struct {
	mu    sync.Mutex
	slots map[string]*hostSlot
	limit int64
	log   *logrus.Entry
}

// NewHostSemaphorePool creates a pool allowing maxPerHost concurrent probes per host
func NewHostSemaphorePool(maxPerHost int, log *logrus.Entry) *HostSemaphorePool {
	limit := int64(maxPerHost)
	if limit <= 0 {
		limit = 2
		log.Warnf("max_requests_per_host invalid or zero, defaulting to %d", limit)
	}
	return &HostSemaphorePool{slots: make(map[string]*hostSlot), limit: limit, log: log}
}

func (p *HostSemaphorePool) ref(host string) *hostSlot {
	p.mu.Lock()
	defer p.mu.Unlock()
	slot, ok := p.slots[host]
	if !ok {
		slot = &hostSlot{sem: semaphore.NewWeighted(p.limit)}
		p.slots[host] = slot
	}
	slot.refs++
	return slot
}

func (p *HostSemaphorePool) unref(host string, slot *hostSlot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(p.slots, host)
	}
}

// Acquire takes one permit for host, blocking until one is free or ctx is done
func (p *HostSemaphorePool) Acquire(ctx context.Context, host string) error {
	slot := p.ref(host)
	if err := slot.sem.Acquire(ctx, 1); err != nil {
		p.unref(host, slot)
		p.log.WithField("host", host).Debugf("Gave up waiting for host permit: %v", err)
		return err
	}
	return nil
}

// Release returns a permit taken by Acquire
func (p *HostSemaphorePool) Release(host string) {
	p.mu.Lock()
	slot, ok := p.slots[host]
	p.mu.Unlock()
	if !ok {
		p.log.Errorf("hostsemaphore: Release called for unknown host: %s", host)
		return
	}
	slot.sem.Release(1)
	p.unref(host, slot)
}

// WithHost runs fn while holding a permit for host
func (p *HostSemaphorePool) WithHost(ctx context.Context, host string, fn func() error) error {
	if err := p.Acquire(ctx, host); err != nil {
		return err
	}
	defer p.Release(host)
	return fn()
}

// Len returns the number of hosts currently held or waited on
func (p *HostSemaphorePool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}
