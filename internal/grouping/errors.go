package grouping

import "errors"

var (
	errMissingCampaign = errors.New("assignment needs a campaign_id")
	errMissingGroup    = errors.New("assignment needs a group")
)

// IsInvalidAssignment reports whether err came from Assignment.Validate.
func IsInvalidAssignment(err error) bool {
	return errors.Is(err, errMissingCampaign) || errors.Is(err, errMissingGroup)
}
