package rtsprelay

import (
	"github.com/bluenviron/rtsprelay/pkg/base"
	"github.com/bluenviron/rtsprelay/pkg/liberrors"
)

// SessionMode is the role of a session.
type SessionMode int

// session modes.
const (
	SessionModePublishing SessionMode = iota
	SessionModePlaying
	SessionModeClientPull
)

var sessionModeLabels = map[SessionMode]string{
	SessionModePublishing: "publishing",
	SessionModePlaying:    "playing",
	SessionModeClientPull: "client pull",
}

// String implements fmt.Stringer.
func (m SessionMode) String() string {
	if l, ok := sessionModeLabels[m]; ok {
		return l
	}
	return "unknown"
}

// isProducer returns whether sessions with this mode feed a path.
func (m SessionMode) isProducer() bool {
	return m == SessionModePublishing || m == SessionModeClientPull
}

// SessionState is the state of a session.
type SessionState int

// session states.
const (
	SessionStateInit SessionState = iota
	SessionStateDescribing
	SessionStateAnnouncing
	SessionStateSetup
	SessionStatePlay
	SessionStateRecord
	SessionStateTeardown
)

var sessionStateLabels = map[SessionState]string{
	SessionStateInit:       "init",
	SessionStateDescribing: "describing",
	SessionStateAnnouncing: "announcing",
	SessionStateSetup:      "setup",
	SessionStatePlay:       "play",
	SessionStateRecord:     "record",
	SessionStateTeardown:   "teardown",
}

// String implements fmt.Stringer.
func (s SessionState) String() string {
	if l, ok := sessionStateLabels[s]; ok {
		return l
	}
	return "unknown"
}

// nextState returns the state reached by applying method to a session.
// In SessionStateInit the mode is not taken into account, since it is decided
// by the method that creates the session.
// Illegal pairs return ErrServerInvalidState and the unchanged state.
func nextState(state SessionState, mode SessionMode, method base.Method) (SessionState, error) {
	invalid := liberrors.ErrServerInvalidState{Method: method, State: state}

	switch method {
	case base.Teardown:
		return SessionStateTeardown, nil

	case base.Options, base.GetParameter:
		return state, nil
	}

	switch state {
	case SessionStateInit:
		switch method {
		case base.Describe:
			return SessionStateDescribing, nil

		case base.Announce:
			return SessionStateAnnouncing, nil
		}

	case SessionStateDescribing:
		switch method {
		case base.Describe:
			return SessionStateDescribing, nil

		case base.Setup:
			return SessionStateSetup, nil
		}

	case SessionStateAnnouncing:
		if method == base.Setup {
			return SessionStateSetup, nil
		}

	case SessionStateSetup:
		switch method {
		case base.Setup:
			return SessionStateSetup, nil

		case base.Play:
			if mode == SessionModePlaying || mode == SessionModeClientPull {
				return SessionStatePlay, nil
			}

		case base.Record:
			if mode == SessionModePublishing {
				return SessionStateRecord, nil
			}
		}
	}

	return state, invalid
}
