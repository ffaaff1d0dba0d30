package mqtt

import "strings"

// Topics builds the gateway's topic names under a prefix.
//
//	topics := mqtt.Topics{Prefix: "nuki"}
//	topics.State("smartlocks.front_door.state.locked")
//	// "nuki/state/smartlocks/front_door/state/locked"
type Topics struct {
	Prefix string
}

// State is the retained topic mirroring a state path.
func (t Topics) State(path string) string {
	return t.Prefix + "/state/" + strings.ReplaceAll(path, ".", "/")
}

// Set is the command topic for a state path.
func (t Topics) Set(path string) string {
	return t.Prefix + "/set/" + strings.ReplaceAll(path, ".", "/")
}

// AllSets matches every command topic.
func (t Topics) AllSets() string {
	return t.Prefix + "/set/#"
}

// PathFromSet converts a command topic back to a state path. ok is false
// for topics outside the set hierarchy.
func (t Topics) PathFromSet(topic string) (string, bool) {
	rest, found := strings.CutPrefix(topic, t.Prefix+"/set/")
	if !found || rest == "" {
		return "", false
	}
	return strings.ReplaceAll(rest, "/", "."), true
}

// Event is the topic for gateway events of a type.
func (t Topics) Event(eventType string) string {
	return t.Prefix + "/events/" + eventType
}

// SystemStatus is the retained availability topic, also used for the LWT.
func (t Topics) SystemStatus() string {
	return t.Prefix + "/system/status"
}
