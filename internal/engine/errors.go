package engine

import (
	"errors"
	"fmt"
)

// ErrChainDepthExceeded marks an aborted control propagation. Match with
// errors.Is; the concrete *ChainDepthError carries the bound and origin.
var ErrChainDepthExceeded = errors.New("control chain depth exceeded")

// ChainDepthError reports that a single change triggered more sequential
// control-rule waves than the configured bound allows. Effects applied within
// the bound are kept; the offending wave is not applied.
type ChainDepthError struct {
	Limit  int
	Origin string
}

func (e *ChainDepthError) Error() string {
	return fmt.Sprintf("control chain depth exceeded: change to %q triggered more than %d waves", e.Origin, e.Limit)
}

func (e *ChainDepthError) Unwrap() error { return ErrChainDepthExceeded }
