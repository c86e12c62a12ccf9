package dispatcher

import (
	"strings"

	"github/itish2003/pointer/agent"
)

// StreamSession accumulates one cloud stream. It settles exactly once, by Complete or Fail;
// later calls and tokens after settling are ignored.
type StreamSession struct {
	buf     strings.Builder
	settled bool
	err     error
	tokens  int
}

// Append adds a token unless the session already settled.
func (s *StreamSession) Append(token string) {
	if s.settled {
		return
	}
	s.buf.WriteString(token)
	s.tokens++
}

// Complete settles the session successfully. It reports whether this call settled it.
func (s *StreamSession) Complete() bool {
	if s.settled {
		return false
	}
	s.settled = true
	return true
}

// Fail settles the session with err. It reports whether this call settled it.
func (s *StreamSession) Fail(err error) bool {
	if s.settled {
		return false
	}
	s.settled = true
	s.err = err
	return true
}

func (s *StreamSession) Settled() bool { return s.settled }

func (s *StreamSession) Err() error { return s.err }

// Text is the accumulated answer, or the no-response literal when nothing arrived.
func (s *StreamSession) Text() string {
	if s.buf.Len() == 0 {
		return agent.NoResponse
	}
	return s.buf.String()
}
