package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSPublisher writes each event to <prefix>.<type>, e.g.
// hearth.events.server.created.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

func NewNATSPublisher(url, prefix string) (*NATSPublisher, error) {
	if prefix == "" {
		prefix = "hearth.events"
	}
	nc, err := nats.Connect(url,
		nats.Name("hearth-panel"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("events: nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("events: nats reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{nc: nc, prefix: prefix}, nil
}

func (p *NATSPublisher) Subject(evt Event) string {
	return p.prefix + "." + evt.Type
}

func (p *NATSPublisher) Publish(_ context.Context, evt Event) {
	if p.nc == nil || p.nc.IsClosed() {
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		log.Printf("events: marshal %s: %v", evt.Type, err)
		return
	}
	if err := p.nc.Publish(p.Subject(evt), data); err != nil {
		log.Printf("events: nats publish %s: %v", evt.Type, err)
	}
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}
