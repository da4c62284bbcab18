package m365

import (
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// ConversationStore is C2: an in-memory, TTL-bounded mapping from
// "<transport>:<conversationKey>" to an upstream conversation id.
type ConversationStore struct {
	cache *gocache.Cache
	ttl   time.Duration
}

// NewConversationStore creates a store whose entries expire after ttl. A
// zero or negative ttl means "never expire" (gocache.NoExpiration).
func NewConversationStore(ttl time.Duration) *ConversationStore {
	expiration := ttl
	if expiration <= 0 {
		expiration = gocache.NoExpiration
	}

	return &ConversationStore{
		cache: gocache.New(expiration, time.Minute),
		ttl:   ttl,
	}
}

// Key builds the store key for a transport + opaque conversation key,
// lowercasing the transport so Graph and Substrate entries never collide.
func Key(transport, conversationKey string) string {
	return strings.ToLower(transport) + ":" + conversationKey
}

// TryGet returns the conversation id for key, or ("", false) if absent or
// expired. go-cache already drops expired entries from Get, so this also
// satisfies the "lazily evict on every read" invariant.
func (s *ConversationStore) TryGet(key string) (string, bool) {
	v, ok := s.cache.Get(key)
	if !ok {
		return "", false
	}

	id, ok := v.(string)

	return id, ok
}

// Set stores/replaces the conversation id for key with the store's configured TTL.
func (s *ConversationStore) Set(key, conversationID string) {
	expiration := s.ttl
	if expiration <= 0 {
		expiration = gocache.NoExpiration
	}

	s.cache.Set(key, conversationID, expiration)
}
