package shadow

import "strings"

// topicContract memorizes the fixed family of topic strings for one device so
// they are not composed on every send. For prefix P and device D the eleven
// strings are the three send topics P/D/{update,get,delete}, their
// accepted/rejected reply topics, the delta topic P/D/delta, and the
// publish-only P/D/delta/rejected.
type topicContract struct {
	update         string
	updateAccepted string
	updateRejected string

	get         string
	getAccepted string
	getRejected string

	delete         string
	deleteAccepted string
	deleteRejected string

	delta         string
	deltaRejected string

	// The subscribe set: every reply topic plus delta.
	subscribe []string
}

func newTopicContract(prefix, deviceName string) *topicContract {
	base := prefix + "/" + deviceName + "/"

	t := &topicContract{
		update:         base + "update",
		updateAccepted: base + "update/accepted",
		updateRejected: base + "update/rejected",

		get:         base + "get",
		getAccepted: base + "get/accepted",
		getRejected: base + "get/rejected",

		delete:         base + "delete",
		deleteAccepted: base + "delete/accepted",
		deleteRejected: base + "delete/rejected",

		delta:         base + "delta",
		deltaRejected: base + "delta/rejected",
	}

	t.subscribe = []string{
		t.updateAccepted,
		t.updateRejected,
		t.getAccepted,
		t.getRejected,
		t.deleteAccepted,
		t.deleteRejected,
		t.delta,
	}

	return t
}

// send returns the send topic for the action, or "" for an invalid action.
func (t *topicContract) send(action Action) string {
	switch action {
	case ActionUpdate:
		return t.update
	case ActionGet:
		return t.get
	case ActionDelete:
		return t.delete
	default:
		return ""
	}
}

// isDelta reports whether the topic is the delta topic. Comparison is
// case-insensitive over the entire topic string.
func (t *topicContract) isDelta(topic string) bool {
	return strings.EqualFold(topic, t.delta)
}

// classify maps a reply topic to its action and acknowledgement status.
// Comparison is case-insensitive and must cover the entire topic string.
func (t *topicContract) classify(topic string) (Action, AckStatus, bool) {
	switch {
	case strings.EqualFold(topic, t.updateAccepted):
		return ActionUpdate, AckAccepted, true
	case strings.EqualFold(topic, t.updateRejected):
		return ActionUpdate, AckRejected, true
	case strings.EqualFold(topic, t.getAccepted):
		return ActionGet, AckAccepted, true
	case strings.EqualFold(topic, t.getRejected):
		return ActionGet, AckRejected, true
	case strings.EqualFold(topic, t.deleteAccepted):
		return ActionDelete, AckAccepted, true
	case strings.EqualFold(topic, t.deleteRejected):
		return ActionDelete, AckRejected, true
	default:
		return ActionInvalid, AckAccepted, false
	}
}
