package segment

import "errors"

// Sentinel errors for the segment service layer.
var (
	ErrNotFound                 = errors.New("segment not found")
	ErrInvalidPrompt            = errors.New("prompt is required")
	ErrInvalidSegmentDefinition = errors.New("invalid segment definition")
)
