package domain

import "errors"

// ErrInvariant marks a programming-contract violation (a trailing stop
// moved backward, a risk percentage outside the configured band). These
// indicate a defect in the caller, not a market condition, and must
// never be swallowed.
var ErrInvariant = errors.New("invariant violation")
