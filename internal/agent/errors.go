package agent

import "errors"

// ErrDraftUnavailable means the very first draft attempt failed: there
// is no prior candidate to fall back on and no safe reply can be
// fabricated from a blank slate. Fatal to the turn; the caller must
// still show the user an acknowledgment, never silence.
var ErrDraftUnavailable = errors.New("draft unavailable on first attempt")
