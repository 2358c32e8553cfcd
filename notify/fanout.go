package notify

import "livetrans/session"

// Fanout delivers each result to every sink in order.
type Fanout []session.Sink

func (f Fanout) Notify(result session.FinalResult) {
	for _, sink := range f {
		sink.Notify(result)
	}
}
