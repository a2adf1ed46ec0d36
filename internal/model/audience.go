package model

import "math"

// Channel is a delivery medium with its own adapter and failure modes.
type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelInApp Channel = "inApp"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelPush, ChannelEmail, ChannelSMS, ChannelInApp:
		return true
	}
	return false
}

// AllChannels lists every known channel, in stable order.
func AllChannels() []Channel {
	return []Channel{ChannelPush, ChannelEmail, ChannelSMS, ChannelInApp}
}

// AudienceKind discriminates the audience spec union.
type AudienceKind string

const (
	AudienceAllTourists AudienceKind = "allTourists"
	AudienceExplicit    AudienceKind = "explicit"
	AudienceLocation    AudienceKind = "location"
	AudienceRole        AudienceKind = "role"
)

// GeoPoint is a WGS84 coordinate.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// AudienceSpec declares who should receive a broadcast. It is resolved to
// concrete recipients at dispatch time, not frozen at creation, so population
// changes up to send time are honored. The explicit list is the exception: it
// is immutable by definition.
//
// Only the fields for the active Kind are meaningful.
type AudienceSpec struct {
	Kind AudienceKind `json:"kind"`

	// Kind == AudienceExplicit
	RecipientIDs []string `json:"recipient_ids,omitempty"`

	// Kind == AudienceLocation
	Center       GeoPoint `json:"center,omitempty"`
	RadiusMeters float64  `json:"radius_meters,omitempty"`

	// Kind == AudienceRole
	Roles []string `json:"roles,omitempty"`
}

func AllTourists() AudienceSpec {
	return AudienceSpec{Kind: AudienceAllTourists}
}

func ExplicitRecipients(ids ...string) AudienceSpec {
	return AudienceSpec{Kind: AudienceExplicit, RecipientIDs: ids}
}

func LocationBased(center GeoPoint, radiusMeters float64) AudienceSpec {
	return AudienceSpec{Kind: AudienceLocation, Center: center, RadiusMeters: radiusMeters}
}

func RoleBased(roles ...string) AudienceSpec {
	return AudienceSpec{Kind: AudienceRole, Roles: roles}
}

func (a AudienceSpec) Clone() AudienceSpec {
	cp := a
	cp.RecipientIDs = append([]string(nil), a.RecipientIDs...)
	cp.Roles = append([]string(nil), a.Roles...)
	return cp
}

func (a AudienceSpec) Validate() error {
	switch a.Kind {
	case AudienceAllTourists:
		return nil
	case AudienceExplicit:
		if len(a.RecipientIDs) == 0 {
			return Validationf("explicit audience must name at least one recipient")
		}
		return nil
	case AudienceLocation:
		if a.RadiusMeters <= 0 {
			return Validationf("location audience radius must be positive")
		}
		if math.Abs(a.Center.Lat) > 90 || math.Abs(a.Center.Lon) > 180 {
			return Validationf("location audience center out of range")
		}
		return nil
	case AudienceRole:
		if len(a.Roles) == 0 {
			return Validationf("role audience must name at least one role")
		}
		return nil
	default:
		return Validationf("unknown audience kind %q", a.Kind)
	}
}
