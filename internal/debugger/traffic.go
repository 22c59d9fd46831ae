package debugger

// TrafficSink receives a verbatim copy of everything exchanged with the
// backend, before it is interpreted.
type TrafficSink interface {
	WriteTraffic(dir Direction, text string)
}

// TrafficFunc adapts a function to TrafficSink.
type TrafficFunc func(dir Direction, text string)

func (f TrafficFunc) WriteTraffic(dir Direction, text string) { f(dir, text) }

// trafficTap holds at most one attached sink. Only the controller goroutine
// uses it.
type trafficTap struct {
	sink TrafficSink
}

// attach replaces any previous sink.
func (t *trafficTap) attach(s TrafficSink) { t.sink = s }

func (t *trafficTap) detach() { t.sink = nil }

func (t *trafficTap) attached() bool { return t.sink != nil }

func (t *trafficTap) write(dir Direction, text string) {
	if t.sink != nil {
		t.sink.WriteTraffic(dir, text)
	}
}
