package debugger

import "fmt"

// queue holds pending commands, the single in-flight command and the
// immediate commands sent alongside it. Only the controller goroutine uses it.
type queue struct {
	pending   []*Handle
	inFlight  *Handle
	immediate map[Token]*Handle
	abandoned map[Token]struct{}
	lastToken Token
}

func newQueue() *queue {
	return &queue{
		immediate: make(map[Token]*Handle),
		abandoned: make(map[Token]struct{}),
	}
}

func (q *queue) nextToken() Token {
	q.lastToken++
	return q.lastToken
}

func (q *queue) push(h *Handle) { q.pending = append(q.pending, h) }

func (q *queue) head() *Handle {
	if len(q.pending) == 0 {
		return nil
	}
	return q.pending[0]
}

func (q *queue) pop() *Handle {
	h := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	return h
}

func (q *queue) busy() bool { return q.inFlight != nil }

// take removes the command dispatched with token. It returns nil for tokens
// that were abandoned or are unknown; abandoned tokens are forgotten.
func (q *queue) take(token Token) (h *Handle, abandoned bool) {
	if _, ok := q.abandoned[token]; ok {
		delete(q.abandoned, token)
		return nil, true
	}
	if q.inFlight != nil && q.inFlight.token == token {
		h, q.inFlight = q.inFlight, nil
		return h, false
	}
	if h, ok := q.immediate[token]; ok {
		delete(q.immediate, token)
		return h, false
	}
	return nil, false
}

// abortAll drops pending commands and abandons outstanding ones. None of
// their continuations run. It returns the affected handles.
func (q *queue) abortAll() []*Handle {
	var dropped []*Handle
	dropped = append(dropped, q.pending...)
	q.pending = nil

	if q.inFlight != nil {
		q.abandoned[q.inFlight.token] = struct{}{}
		dropped = append(dropped, q.inFlight)
		q.inFlight = nil
	}
	for token, h := range q.immediate {
		q.abandoned[token] = struct{}{}
		dropped = append(dropped, h)
	}
	clear(q.immediate)
	return dropped
}

func (q *queue) String() string {
	return fmt.Sprintf("queue(pending=%d busy=%v immediate=%d)", len(q.pending), q.busy(), len(q.immediate))
}
