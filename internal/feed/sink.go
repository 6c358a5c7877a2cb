package feed

import "github.com/quantfold/etfbot/internal/domain"

// Sink receives ticks from the adapter. Publish is called on network-I/O
// goroutines and must never block; implementations buffer internally.
type Sink interface {
	Publish(domain.Tick)
}

// MultiSink fans one tick out to several sinks in order. Delivery is
// at-least-attempted per sink, not exactly-once.
type MultiSink []Sink

// Publish forwards the tick to every sink.
func (m MultiSink) Publish(t domain.Tick) {
	for _, s := range m {
		s.Publish(t)
	}
}
