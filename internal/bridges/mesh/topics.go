package mesh

import "strings"

// Topic leaves under a light or group topic.
const (
	leafPower        = "power"
	leafLightness    = "lightness"
	leafCTL          = "ctl"
	leafPowerGet     = "powerGet"
	leafLightnessGet = "lightnessGet"
	leafCTLGet       = "ctlGet"
	leafStatus       = "status"
	leafActivate     = "activate"
)

// DefaultPrefix is the gateway's factory topic prefix.
const DefaultPrefix = "hafele"

// Topics builds gateway topics under a configurable prefix.
//
//	topics := mesh.NewTopics("hafele")
//	topics.Lights()                         // "hafele/lights"
//	topics.Command(target, "power")         // "hafele/lights/Desk Lamp/power"
//	topics.Status(target)                   // "hafele/lights/Desk Lamp/status"
type Topics struct {
	prefix string
}

// NewTopics returns a topic builder for prefix. An empty prefix selects
// DefaultPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the configured prefix.
func (t Topics) Prefix() string {
	return t.prefix
}

// Lights is the light discovery topic.
func (t Topics) Lights() string {
	return t.prefix + "/lights"
}

// Groups is the group discovery topic.
func (t Topics) Groups() string {
	return t.prefix + "/groups"
}

// Scenes is the scene discovery topic.
func (t Topics) Scenes() string {
	return t.prefix + "/scenes"
}

// Command returns the topic for one leaf (power, lightness, ctlGet...)
// of a light or group.
func (t Topics) Command(target Target, leaf string) string {
	return t.entityBase(target) + "/" + leaf
}

// Status is the topic the gateway answers status requests on.
func (t Topics) Status(target Target) string {
	return t.Command(target, leafStatus)
}

// SceneActivate is the topic that triggers a scene.
func (t Topics) SceneActivate(sceneName string) string {
	return t.Scenes() + "/" + EscapeSegment(sceneName) + "/" + leafActivate
}

func (t Topics) entityBase(target Target) string {
	family := t.Lights()
	if target.Kind == KindGroup {
		family = t.Groups()
	}
	return family + "/" + EscapeSegment(target.Name)
}

// segmentEscaper percent-encodes the characters that would split a name
// across topic levels or turn it into a wildcard. Escaping '%' itself
// keeps the encoding reversible.
var segmentEscaper = strings.NewReplacer(
	"%", "%25",
	"/", "%2F",
	"+", "%2B",
	"#", "%23",
	"\x00", "%00",
)

// EscapeSegment makes name safe to use as a single topic level.
// Names without reserved characters are returned unchanged.
func EscapeSegment(name string) string {
	return segmentEscaper.Replace(name)
}
