// ABOUTME: Tagged cache key: topology-level or conversation-scoped.
// ABOUTME: The type distinction keeps the two namespaces from ever colliding.

package graphcache

// Key identifies a cache entry. A topology key (ConversationID empty)
// covers every conversation that uses the agency's default thread ids; a
// conversation key pins one conversation's own thread ids. The two never
// resolve to each other's entry.
type Key struct {
	AgencyID       string
	ConversationID string
}

// TopologyKey returns the key shared by all conversations of an agency.
func TopologyKey(agencyID string) Key {
	return Key{AgencyID: agencyID}
}

// ConversationKey returns the key scoped to one conversation.
func ConversationKey(agencyID, conversationID string) Key {
	return Key{AgencyID: agencyID, ConversationID: conversationID}
}

// IsConversation reports whether the key is conversation-scoped.
func (k Key) IsConversation() bool { return k.ConversationID != "" }

// String renders the key for logging and for the shared store record id.
func (k Key) String() string {
	if k.ConversationID == "" {
		return k.AgencyID
	}
	return k.AgencyID + "/" + k.ConversationID
}
