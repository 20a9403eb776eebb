package termsession

import "errors"

// ErrSessionTerminal is returned by Write/Signal when a session has no
// live adapter — either it already reached a terminal state, or it was
// never spawned (spawn failure).
var ErrSessionTerminal = errors.New("termsession: session is terminal or adapter released")

// ErrUnknownSession is returned by Store.Lookup/Remove for an id not in
// the store.
var ErrUnknownSession = errors.New("termsession: unknown session id")

// ErrEmptyCommand is returned by Store.Create when command is blank.
var ErrEmptyCommand = errors.New("termsession: command must not be empty")
