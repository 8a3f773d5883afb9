// Serialmux provides an abstraction over a line-oriented detector feed (a
// serial port, a replay file or stdin) with the ability for multiple
// clients to subscribe to its lines and send commands to the single
// device behind it.
package serialmux

import (
	"bufio"
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"tailscale.com/tsweb"

	"github.com/banshee-data/people.counter/internal/monitoring"
)

var ErrWriteFailed = fmt.Errorf("failed to write to serial port")

// maxLineSize bounds a single feed line. Detection lines for crowded
// frames run to a few kilobytes.
const maxLineSize = 1 << 20

// SerialMux is a generic feed multiplexer that allows multiple clients to
// subscribe to lines from a single port.
type SerialMux[T SerialPorter] struct {
	port         T
	subscribers  map[string]*subscriber
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	closing      bool
	closingMu    sync.Mutex

	// InitCommands are written to the device by Initialize.
	InitCommands []string

	lines   atomic.Uint64
	dropped atomic.Uint64
}

// SerialMuxInterface defines the interface for the SerialMux type.
type SerialMuxInterface interface {
	// Subscribe creates a new channel for receiving lines from the feed.
	// Lines are dropped for a subscriber that is not ready to receive, so
	// it suits live views. The channel ID is used when unsubscribing.
	Subscribe() (string, chan string)
	// SubscribeOrdered creates a channel that receives every line in
	// order. Monitor waits for the subscriber before reading further.
	SubscribeOrdered() (string, chan string)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// SendCommand writes the provided command to the device.
	SendCommand(string) error
	// Monitor reads lines from the port and sends them to subscribers.
	// When the port reaches end of stream all subscriber channels are
	// closed and Monitor returns nil.
	Monitor(context.Context) error
	// Close closes all subscribed channels and closes the port.
	Close() error

	Initialize() error

	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/.
	AttachAdminRoutes(*http.ServeMux)
}

type subscriber struct {
	ch      chan string
	ordered bool

	done     chan struct{}
	doneOnce sync.Once

	mu     sync.Mutex
	closed bool
}

func newSubscriber(ordered bool) *subscriber {
	return &subscriber{
		ch:      make(chan string),
		ordered: ordered,
		done:    make(chan struct{}),
	}
}

// send delivers a line. It reports false when the line was dropped.
func (s *subscriber) send(ctx context.Context, line string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if !s.ordered {
		select {
		case s.ch <- line:
			return true
		default:
			return false
		}
	}
	select {
	case s.ch <- line:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// close releases a blocked send before closing the channel.
func (s *subscriber) close() {
	s.doneOnce.Do(func() { close(s.done) })
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// NewSerialMux creates a SerialMux instance backed by the given port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:        port,
		subscribers: make(map[string]*subscriber),
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (s *SerialMux[T]) addSubscriber(ordered bool) (string, chan string) {
	id := randomID()
	sub := newSubscriber(ordered)

	s.closingMu.Lock()
	closing := s.closing
	s.closingMu.Unlock()
	if closing {
		// Already shut down, hand back a closed channel so callers don't block.
		sub.close()
		return id, sub.ch
	}

	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = sub
	return id, sub.ch
}

func (s *SerialMux[T]) Subscribe() (string, chan string) {
	return s.addSubscriber(false)
}

func (s *SerialMux[T]) SubscribeOrdered() (string, chan string) {
	return s.addSubscriber(true)
}

// Unsubscribe removes a subscriber from the serial mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	sub, ok := s.subscribers[id]
	delete(s.subscribers, id)
	s.subscriberMu.Unlock()
	if ok {
		sub.close()
	}
}

// Initialize writes the configured start-up commands to the device.
func (s *SerialMux[T]) Initialize() error {
	for _, command := range s.InitCommands {
		if err := s.SendCommand(command); err != nil {
			return fmt.Errorf("failed to send start command %q: %w", command, err)
		}
	}
	return nil
}

// SendCommand sends a command to the serial port.
func (s *SerialMux[T]) SendCommand(command string) error {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	if !bytes.HasSuffix([]byte(command), []byte("\n")) {
		command += "\n" // ensure command ends with a newline
	}
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Lines returns the number of lines read from the port.
func (s *SerialMux[T]) Lines() uint64 { return s.lines.Load() }

// Dropped returns the number of deliveries skipped for busy subscribers.
func (s *SerialMux[T]) Dropped() uint64 { return s.dropped.Load() }

func (s *SerialMux[T]) snapshotSubscribers() []*subscriber {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	subs := make([]*subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		subs = append(subs, sub)
	}
	return subs
}

func (s *SerialMux[T]) closeSubscribers() {
	s.subscriberMu.Lock()
	subs := make([]*subscriber, 0, len(s.subscribers))
	for id, sub := range s.subscribers {
		subs = append(subs, sub)
		delete(s.subscribers, id)
	}
	s.subscriberMu.Unlock()
	for _, sub := range subs {
		sub.close()
	}
}

func (s *SerialMux[T]) isClosing() bool {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	return s.closing
}

// Monitor monitors the port for lines and sends them to subscribers.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(s.port)
	scan.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// The blocking scan.Scan runs in its own goroutine so the loop below
	// can still observe context cancellation.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			return err

		case line, ok := <-lineChan:
			if !ok {
				select {
				case err := <-scanErrChan:
					return err
				default:
				}
				// End of stream: let subscribers see it.
				monitoring.Logf("feed exhausted after %d lines", s.lines.Load())
				s.closeSubscribers()
				return nil
			}
			if s.isClosing() {
				return nil
			}

			s.lines.Add(1)
			for _, sub := range s.snapshotSubscribers() {
				if !sub.send(ctx, line) {
					s.dropped.Add(1)
				}
			}
		}
	}
}

func (s *SerialMux[T]) Close() error {
	s.closingMu.Lock()
	s.closing = true
	s.closingMu.Unlock()

	s.closeSubscribers()
	return s.port.Close()
}

const feedPage = `<!doctype html>
<html><head><title>detector feed</title></head>
<body>
<h1>Detector feed</h1>
<form method="post" action="send-command-api">
  <input name="command" placeholder="command"> <button>send</button>
</form>
<pre id="tail"></pre>
<script>
const tail = document.getElementById("tail");
const es = new EventSource("tail");
es.onmessage = (e) => {
  tail.textContent = (e.data + "\n" + tail.textContent).slice(0, 20000);
};
</script>
</body></html>
`

func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	// Live tail page driven by the two endpoints below.
	debug.HandleFunc("feed", "tail the detector feed and send commands", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, feedPage)
	})

	debug.KVFunc("Feed lines", func() any { return s.Lines() })
	debug.KVFunc("Feed dropped", func() any { return s.Dropped() })

	// API endpoint to write a command to the device
	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if err := s.SendCommand(command); err != nil {
			http.Error(w, "Failed to write command", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, fmt.Sprintf("Wrote command %q to serial port", command))
	})

	// Server-Sent Events stream of feed lines.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		// Send initial ping to establish connection
		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case payload, ok := <-c:
				if !ok {
					return
				}
				if _, err := w.Write([]byte(fmt.Sprintf("data: %s\n\n", payload))); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
