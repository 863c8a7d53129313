package ws

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nbrly/chatsync/wire"
)

// fakeDriver is a scriptable in-memory Driver.
type fakeDriver struct {
	mu sync.Mutex

	dialErr  error
	dialedAt time.Time
	header   http.Header

	frames  chan *wire.Envelope
	sent    []*wire.Envelope
	closing bool
	reason  string
}

func newFakeDriver(dialErr error) *fakeDriver {
	return &fakeDriver{
		dialErr: dialErr,
		frames:  make(chan *wire.Envelope, 16),
	}
}

func (d *fakeDriver) Dial(ctx context.Context, url string, header http.Header) error {
	d.mu.Lock()
	d.dialedAt = time.Now()
	d.header = header
	d.mu.Unlock()
	return d.dialErr
}

func (d *fakeDriver) Send(env *wire.Envelope) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		return fmt.Errorf("fake: connection closed")
	}
	d.sent = append(d.sent, env)
	return nil
}

func (d *fakeDriver) Frames() <-chan *wire.Envelope { return d.frames }

func (d *fakeDriver) Close() error {
	d.drop("closed by client")
	return nil
}

func (d *fakeDriver) CloseReason() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reason
}

// drop simulates a lost connection (or finishes a manual close).
func (d *fakeDriver) drop(reason string) {
	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		return
	}
	d.closing = true
	d.reason = reason
	d.mu.Unlock()
	close(d.frames)
}

func (d *fakeDriver) push(env *wire.Envelope) {
	d.frames <- env
}

// driverScript hands out pre-loaded drivers, one per connection attempt.
type driverScript struct {
	mu      sync.Mutex
	drivers []*fakeDriver
	next    int
}

func (s *driverScript) add(d *fakeDriver) *fakeDriver {
	s.mu.Lock()
	s.drivers = append(s.drivers, d)
	s.mu.Unlock()
	return d
}

func (s *driverScript) factory() Driver {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.drivers) {
		panic("driverScript: no more scripted drivers")
	}
	d := s.drivers[s.next]
	s.next++
	return d
}

// dialTimes returns when each scripted driver was dialed, zero if never.
func (s *driverScript) dialTimes() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Time, len(s.drivers))
	for i, d := range s.drivers {
		d.mu.Lock()
		out[i] = d.dialedAt
		d.mu.Unlock()
	}
	return out
}
