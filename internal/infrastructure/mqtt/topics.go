package mqtt

import "fmt"

// Topics builds the topics the bridge itself owns, under a configurable root.
// Gateway topics (discovery, commands, status) are built by the mesh package.
//
//	topics := mqtt.NewTopics("meshbridge")
//	topics.EntityState("light", 123) // "meshbridge/state/light/123"
type Topics struct {
	root string
}

// NewTopics returns a topic builder rooted at root.
func NewTopics(root string) Topics {
	return Topics{root: root}
}

// Root returns the configured topic root.
func (t Topics) Root() string {
	return t.root
}

// SystemStatus is the retained online/offline topic, also used for the LWT.
//
// Example: meshbridge/status
func (t Topics) SystemStatus() string {
	return t.root + "/status"
}

// Health is the retained bridge health topic.
//
// Example: meshbridge/health
func (t Topics) Health() string {
	return t.root + "/health"
}

// EntityState is the retained state topic for one entity, keyed by kind
// class ("light" or "group") so a light keeps its topic across kinds.
//
// Example: meshbridge/state/group/49152
func (t Topics) EntityState(class string, address int) string {
	return fmt.Sprintf("%s/state/%s/%d", t.root, class, address)
}

// AllEntityStates matches every entity state topic.
//
// Example: meshbridge/state/+/+
func (t Topics) AllEntityStates() string {
	return t.root + "/state/+/+"
}
