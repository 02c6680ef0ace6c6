package model

import "time"

// Shared defaults used by both the server and CLI binaries.
const (
	DefaultUpdateInterval = 2 * time.Second
	DefaultJobLimit       = 100
	DefaultSkin           = "default"
)

// EffectiveLimit returns the row limit for a listing.
func (o QueryOpts) EffectiveLimit() int {
	if o.Limit <= 0 {
		return DefaultJobLimit
	}
	return o.Limit
}
