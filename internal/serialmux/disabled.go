package serialmux

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"

	"tailscale.com/tsweb"
)

// ErrFeedDisabled is returned for commands sent while the counter runs
// without a detector feed.
var ErrFeedDisabled = errors.New("detector feed disabled")

// DisabledSerialMux stands in for the feed when the counter serves stored
// history only (-input none). No line is ever delivered. Subscriber
// channels close on Unsubscribe or Close so readers unblock at shutdown.
type DisabledSerialMux struct {
	mu     sync.Mutex
	subs   map[string]chan string
	closed bool
}

func NewDisabledSerialMux() *DisabledSerialMux {
	return &DisabledSerialMux{subs: make(map[string]chan string)}
}

func (d *DisabledSerialMux) Subscribe() (string, chan string) {
	id, ch := randomID(), make(chan string)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		close(ch)
	} else {
		d.subs[id] = ch
	}
	return id, ch
}

// SubscribeOrdered behaves like Subscribe; there is nothing to order.
func (d *DisabledSerialMux) SubscribeOrdered() (string, chan string) { return d.Subscribe() }

func (d *DisabledSerialMux) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.subs[id]; ok {
		delete(d.subs, id)
		close(ch)
	}
}

func (d *DisabledSerialMux) SendCommand(string) error { return ErrFeedDisabled }

// Monitor idles until ctx ends.
func (d *DisabledSerialMux) Monitor(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (d *DisabledSerialMux) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		for id, ch := range d.subs {
			delete(d.subs, id)
			close(ch)
		}
	}
	return nil
}

func (d *DisabledSerialMux) Initialize() error { return nil }

// AttachAdminRoutes serves /debug/feed with a notice in place of the live
// tail, so the debug index looks the same with or without a feed.
func (d *DisabledSerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.KV("Feed", "disabled")
	debug.HandleFunc("feed", "detector feed (disabled)", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, "detector feed disabled: counter started with -input none\n")
	})
}

var (
	_ SerialMuxInterface = (*DisabledSerialMux)(nil)
	_ SerialMuxInterface = (*SerialMux[*ReplayPort])(nil)
)
