package campaign

import "errors"

// Sentinel errors for the campaign service layer.
var (
	ErrNotFound                  = errors.New("campaign not found")
	ErrInvalidCampaignDefinition = errors.New("invalid campaign definition")
	ErrNoSuchSegments            = errors.New("none of the selected segments exist")
	ErrCampaignCreationFailed    = errors.New("campaign creation failed")
	ErrCreateInProgress          = errors.New("a campaign with this name is already being created")
	ErrAsyncUnavailable          = errors.New("async delivery is not configured")
)
