// Package bus distributes lifecycle events over an embedded NATS server.
// The core publishes; the WebSocket hub and any external tooling subscribe.
// Running the broker in-process keeps the single-binary deployment while
// leaving the door open for out-of-process subscribers.
package bus

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/ernie/fortcore/internal/domain"
	server "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// Subjects for lifecycle events
const (
	SubjectState    = "fortcore.state"
	SubjectMatch    = "fortcore.match"
	SubjectRollback = "fortcore.rollback"
	SubjectPlayers  = "fortcore.players"

	// SubjectAll matches every fortcore subject
	SubjectAll = "fortcore.>"
)

// Bus is an embedded NATS server plus an in-process client connection
type Bus struct {
	srv  *server.Server
	conn *nats.Conn
}

// New starts the embedded server on the given port (-1 picks a free port)
// and connects a client to it.
func New(port int) (*Bus, error) {
	opts := &server.Options{
		Host:   "127.0.0.1",
		Port:   port,
		NoSigs: true,
		NoLog:  true,
	}
	srv, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("creating embedded nats server: %w", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		srv.Shutdown()
		return nil, fmt.Errorf("embedded nats server not ready")
	}

	conn, err := nats.Connect(srv.ClientURL())
	if err != nil {
		srv.Shutdown()
		return nil, fmt.Errorf("connecting to embedded nats server: %w", err)
	}
	return &Bus{srv: srv, conn: conn}, nil
}

// ClientURL returns the URL external subscribers can connect to
func (b *Bus) ClientURL() string {
	return b.srv.ClientURL()
}

// Conn exposes the in-process client connection for raw subjects
// (the engine bridge uses its own request/reply wire format).
func (b *Bus) Conn() *nats.Conn {
	return b.conn
}

// Publish sends one event on its subject as JSON
func (b *Bus) Publish(ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	if err := b.conn.Publish(subjectFor(ev.Type), data); err != nil {
		return fmt.Errorf("publishing %s: %w", ev.Type, err)
	}
	return nil
}

// subjectFor maps an event type to its subject
func subjectFor(eventType string) string {
	switch eventType {
	case domain.EventStateChange:
		return SubjectState
	case domain.EventMatchStart, domain.EventMatchEnd:
		return SubjectMatch
	case domain.EventRollbackStart, domain.EventRollbackComplete:
		return SubjectRollback
	case domain.EventPlayerJoin, domain.EventPlayerLeave:
		return SubjectPlayers
	default:
		return "fortcore.misc"
	}
}

// Subscribe delivers every event matching subject to fn
func (b *Bus) Subscribe(subject string, fn func(domain.Event)) (*nats.Subscription, error) {
	return b.conn.Subscribe(subject, func(msg *nats.Msg) {
		var ev domain.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Printf("bus: dropping malformed event on %s: %v", msg.Subject, err)
			return
		}
		fn(ev)
	})
}

// Forward drains an event channel into the bus until the channel closes
func (b *Bus) Forward(events <-chan domain.Event) {
	for ev := range events {
		if err := b.Publish(ev); err != nil {
			log.Printf("bus: %v", err)
		}
	}
}

// Close drains the client and shuts the embedded server down
func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Drain()
	}
	if b.srv != nil {
		b.srv.Shutdown()
		b.srv.WaitForShutdown()
	}
}
