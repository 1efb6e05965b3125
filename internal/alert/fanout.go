package alert

import "context"

// Broadcaster pushes a payload to all live subscribers of a channel.
// Satisfied by the WebSocket hub.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// Fanout persists an alert and then pushes it to live listeners.
//
// Persistence is authoritative: if the store rejects the alert, nothing
// is broadcast and the error is returned to the producer.
type Fanout struct {
	store       Sink
	broadcaster Broadcaster
}

// NewFanout creates a sink that stores alerts and broadcasts them on the
// alert.triggered channel.
func NewFanout(store Sink, broadcaster Broadcaster) *Fanout {
	return &Fanout{store: store, broadcaster: broadcaster}
}

// Record implements Sink.
func (f *Fanout) Record(ctx context.Context, a Alert) error {
	if err := f.store.Record(ctx, a); err != nil {
		return err
	}
	if f.broadcaster != nil {
		f.broadcaster.Broadcast("alert.triggered", a)
	}
	return nil
}
