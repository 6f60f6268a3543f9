package control

import (
	"sync"
	"time"
)

// fakeClock advances only when the loop sleeps or a test moves it.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func (f *fakeClock) After(d time.Duration) <-chan time.Time {
	f.Advance(d)
	ch := make(chan time.Time, 1)
	ch <- f.Now()
	return ch
}

// fakeTransport records sends and answers receives from a script.
type fakeTransport struct {
	clock *fakeClock

	mu       sync.Mutex
	sends    []time.Time
	payloads [][]byte
	sendErr  error

	onSend func(i int)
	recv   func(i int) ([]byte, bool, error)
}

func (f *fakeTransport) Send(b []byte) error {
	f.mu.Lock()
	i := len(f.sends)
	f.sends = append(f.sends, f.clock.Now())
	f.payloads = append(f.payloads, append([]byte(nil), b...))
	err := f.sendErr
	hook := f.onSend
	f.mu.Unlock()
	if hook != nil {
		hook(i)
	}
	return err
}

func (f *fakeTransport) TryReceive(timeout time.Duration) ([]byte, bool, error) {
	f.mu.Lock()
	i := len(f.sends) - 1
	recv := f.recv
	f.mu.Unlock()
	if recv == nil {
		return nil, false, nil
	}
	return recv(i)
}

func (f *fakeTransport) sendTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.sends...)
}

func (f *fakeTransport) sent(i int) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payloads[i]
}
