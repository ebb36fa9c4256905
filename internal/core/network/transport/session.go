package transport

import (
	"context"
	"time"

	"github.com/zeusync/simcore/internal/core/action"
	"github.com/zeusync/simcore/internal/core/observability/log"
)

const (
	DefaultFlushInterval = 10 * time.Millisecond
	handshakeTimeout     = 10 * time.Second
)

type options struct {
	interval time.Duration
	topics   []action.Topic
}

type Option func(*options)

// WithFlushInterval sets how often locally dispatched actions are sent.
func WithFlushInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithTopics replaces the topics forwarded to remote peers. The hub must
// buffer the same topics through action.WithNetworkedTopics.
func WithTopics(topics ...action.Topic) Option {
	return func(o *options) { o.topics = topics }
}

func buildOptions(opts []Option) options {
	o := options{interval: DefaultFlushInterval, topics: []action.Topic{action.WorldTopic}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// outgoing collects the buffered local actions of every forwarded topic.
func (o options) outgoing(hub *action.Hub) []action.Action {
	var out []action.Action
	for _, t := range o.topics {
		out = append(out, hub.TakeOutgoing(t)...)
	}
	return out
}

// deliver decodes wires and hands them to the hub. accept filters decoded
// actions before they reach the hub; rejected or undecodable ones are logged
// and skipped. The wires that were delivered are returned.
func deliver(hub *action.Hub, catalog *action.Catalog, logger log.Log, wires []action.Wire, accept func(action.Action, action.Wire) bool) []action.Wire {
	delivered := wires[:0:0]
	for _, w := range wires {
		a, err := catalog.FromWire(w)
		if err != nil {
			logger.Warn("dropping undecodable action", log.String("type", w.Type), log.Error(err))
			continue
		}
		if accept != nil && !accept(a, w) {
			logger.Warn("dropping action with forged author",
				log.String("type", a.Type),
				log.String("from", string(a.From)),
			)
			continue
		}
		if err = hub.Receive(a); err != nil {
			logger.Warn("dropping rejected action", log.String("type", a.Type), log.Error(err))
			continue
		}
		delivered = append(delivered, w)
	}
	return delivered
}

// ticker calls fn every interval until ctx ends.
func ticker(ctx context.Context, interval time.Duration, fn func()) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			fn()
		}
	}
}
