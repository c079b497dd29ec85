// Package session ends authenticated sessions after a period without
// activity.
package session

import (
	"sync"
	"sync/atomic"
	"time"
)

// Manager owns the idle timer for one session. Every value received on the
// activity channel pushes expiry back by the full timeout. When the timer
// fires onExpire runs once and Done is closed. Logout stops the timer without
// calling onExpire.
type Manager struct {
	timeout  time.Duration
	activity <-chan struct{}
	onExpire func()

	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	expired atomic.Bool
}

// NewManager starts the idle timer. onExpire may be nil.
func NewManager(timeout time.Duration, activity <-chan struct{}, onExpire func()) *Manager {
	m := &Manager{
		timeout:  timeout,
		activity: activity,
		onExpire: onExpire,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *Manager) run() {
	defer close(m.done)

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	activity := m.activity
	for {
		select {
		case _, ok := <-activity:
			if !ok {
				activity = nil
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(m.timeout)
		case <-timer.C:
			m.expired.Store(true)
			if m.onExpire != nil {
				m.onExpire()
			}
			return
		case <-m.stop:
			return
		}
	}
}

// Logout ends the session. It is safe to call more than once and after expiry.
func (m *Manager) Logout() {
	m.once.Do(func() { close(m.stop) })
	<-m.done
}

// Done is closed once the session has ended by expiry or logout.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Expired reports whether the session ended because of inactivity.
func (m *Manager) Expired() bool {
	return m.expired.Load()
}
