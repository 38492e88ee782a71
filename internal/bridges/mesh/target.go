package mesh

import (
	"fmt"
	"strings"
)

// Kind is the closed set of entity variants the gateway exposes.
// It is chosen once, when the entity is first discovered.
type Kind int

const (
	// KindMonochrome is a dimmable light without colour temperature.
	KindMonochrome Kind = iota

	// KindMultiwhite is a light with tunable colour temperature.
	KindMultiwhite

	// KindGroup is a gateway-side group of lights. Power and lightness only.
	KindGroup
)

// String returns the kind name used in logs, metrics and the API.
func (k Kind) String() string {
	switch k {
	case KindMonochrome:
		return "monochrome"
	case KindMultiwhite:
		return "multiwhite"
	case KindGroup:
		return "group"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Class is the topic family: "light" for both light kinds, "group" otherwise.
func (k Kind) Class() string {
	if k == KindGroup {
		return "group"
	}
	return "light"
}

// HasTemperature reports whether the kind accepts colour temperature.
func (k Kind) HasTemperature() bool {
	return k == KindMultiwhite
}

// KindFromTags picks the light kind from discovery capability tags.
// Matching is case-insensitive; "multiwhite" and "rgb" both select
// KindMultiwhite.
func KindFromTags(tags []string) Kind {
	for _, tag := range tags {
		switch strings.ToLower(strings.TrimSpace(tag)) {
		case "multiwhite", "rgb":
			return KindMultiwhite
		}
	}
	return KindMonochrome
}

// Target identifies one light or group on the gateway.
type Target struct {
	Kind    Kind
	Address int

	// Name is the gateway name used in topics.
	Name string

	// DisplayName is the name shown to users. Usually equal to Name.
	DisplayName string
}

// Key uniquely identifies the target across lights and groups.
//
// Example: "light/123", "group/49152"
func (t Target) Key() string {
	return EntityKey(t.Kind, t.Address)
}

// EntityKey builds the key for kind and address without a Target.
func EntityKey(kind Kind, address int) string {
	return fmt.Sprintf("%s/%d", kind.Class(), address)
}
