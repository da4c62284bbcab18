package m365

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/looplj/m365gateway/internal/pkg/xjson"
)

// StoredResponse is C3's persisted record for one Responses-API completion.
type StoredResponse struct {
	ResponseID     string
	CreatedAtUnix  int64
	ResponseBody   json.RawMessage
	ConversationID string
}

// ConversationLink is the responseId -> conversation mapping used when a
// request supplies previous_response_id without a conversation hint.
type ConversationLink struct {
	ConversationID string
}

// ResponseList is the paginated result of ResponseStore.List.
type ResponseList struct {
	Responses []StoredResponse
	HasMore   bool
	FirstID   string
	LastID    string
}

// ResponseStore is C3: an in-memory, TTL-bounded store of completed
// Responses-API objects, plus a link table for previous_response_id
// continuation.
type ResponseStore struct {
	cache *gocache.Cache
	links *gocache.Cache
	ttl   time.Duration

	mu    sync.Mutex
	order []string // insertion order of response ids, oldest first
}

func NewResponseStore(ttl time.Duration) *ResponseStore {
	expiration := ttl
	if expiration <= 0 {
		expiration = gocache.NoExpiration
	}

	return &ResponseStore{
		cache: gocache.New(expiration, time.Minute),
		links: gocache.New(expiration, time.Minute),
		ttl:   ttl,
	}
}

// Set stores a deep clone of body under responseId, refreshing the TTL.
func (s *ResponseStore) Set(responseID string, body json.RawMessage, conversationID string, createdAtUnix int64) {
	entry := StoredResponse{
		ResponseID:     responseID,
		CreatedAtUnix:  createdAtUnix,
		ResponseBody:   xjson.DeepClone(body),
		ConversationID: conversationID,
	}

	expiration := s.ttl
	if expiration <= 0 {
		expiration = gocache.NoExpiration
	}

	_, existed := s.cache.Get(responseID)
	s.cache.Set(responseID, entry, expiration)

	if !existed {
		s.mu.Lock()
		s.order = append(s.order, responseID)
		s.mu.Unlock()
	}
}

// TryGet returns a deep clone of the stored response, or (zero, false).
func (s *ResponseStore) TryGet(responseID string) (StoredResponse, bool) {
	v, ok := s.cache.Get(responseID)
	if !ok {
		return StoredResponse{}, false
	}

	entry := v.(StoredResponse)
	entry.ResponseBody = xjson.DeepClone(entry.ResponseBody)

	return entry, true
}

// TryDelete removes the stored response and reports whether it existed.
func (s *ResponseStore) TryDelete(responseID string) bool {
	_, existed := s.cache.Get(responseID)
	s.cache.Delete(responseID)

	if existed {
		s.mu.Lock()

		for i, id := range s.order {
			if id == responseID {
				s.order = append(s.order[:i], s.order[i+1:]...)

				break
			}
		}

		s.mu.Unlock()
	}

	return existed
}

// List returns the min(limit, 100) most-recently-created entries, descending
// by CreatedAtUnix, stable under ties by insertion order. limit <= 0 or > 100
// is clamped: 0/negative -> 20, > 100 -> 100.
func (s *ResponseStore) List(limit int) ResponseList {
	switch {
	case limit <= 0:
		limit = 20
	case limit > 100:
		limit = 100
	}

	s.mu.Lock()
	ids := append([]string(nil), s.order...)
	s.mu.Unlock()

	entries := make([]StoredResponse, 0, len(ids))

	for _, id := range ids {
		if v, ok := s.cache.Get(id); ok {
			entries = append(entries, v.(StoredResponse))
		}
	}

	// Stable sort descending by CreatedAtUnix; entries start oldest-first,
	// so equal timestamps stay in insertion order (oldest first).
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAtUnix > entries[j].CreatedAtUnix
	})

	hasMore := len(entries) > limit
	if len(entries) > limit {
		entries = entries[:limit]
	}

	result := ResponseList{Responses: entries, HasMore: hasMore}
	if len(entries) > 0 {
		result.FirstID = entries[0].ResponseID
		result.LastID = entries[len(entries)-1].ResponseID
	}

	for i := range result.Responses {
		result.Responses[i].ResponseBody = xjson.DeepClone(result.Responses[i].ResponseBody)
	}

	return result
}

// SetConversationLink records the conversation a response id is linked to.
func (s *ResponseStore) SetConversationLink(responseID, conversationID string) {
	expiration := s.ttl
	if expiration <= 0 {
		expiration = gocache.NoExpiration
	}

	s.links.Set(responseID, ConversationLink{ConversationID: conversationID}, expiration)
}

func (s *ResponseStore) TryGetConversationLink(responseID string) (ConversationLink, bool) {
	v, ok := s.links.Get(responseID)
	if !ok {
		return ConversationLink{}, false
	}

	return v.(ConversationLink), true
}
