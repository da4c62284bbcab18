package m365

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConversationStore_SetAndGet(t *testing.T) {
	store := NewConversationStore(time.Minute)

	key := Key("Graph", "conv-key-1")
	store.Set(key, "upstream-id-1")

	id, ok := store.TryGet(key)
	assert.True(t, ok)
	assert.Equal(t, "upstream-id-1", id)
}

func TestConversationStore_Key_LowercasesTransport(t *testing.T) {
	assert.Equal(t, Key("graph", "abc"), Key("Graph", "abc"))
	assert.Equal(t, Key("substrate", "abc"), Key("SUBSTRATE", "abc"))
	assert.NotEqual(t, Key("graph", "abc"), Key("substrate", "abc"))
}

func TestConversationStore_TryGet_MissingKey(t *testing.T) {
	store := NewConversationStore(time.Minute)

	_, ok := store.TryGet(Key("graph", "never-set"))
	assert.False(t, ok)
}

func TestConversationStore_Expiry(t *testing.T) {
	store := NewConversationStore(10 * time.Millisecond)

	key := Key("graph", "short-lived")
	store.Set(key, "upstream-id")

	_, ok := store.TryGet(key)
	assert.True(t, ok)

	time.Sleep(50 * time.Millisecond)

	_, ok = store.TryGet(key)
	assert.False(t, ok)
}

func TestConversationStore_ZeroTTLNeverExpires(t *testing.T) {
	store := NewConversationStore(0)

	key := Key("graph", "forever")
	store.Set(key, "upstream-id")

	time.Sleep(20 * time.Millisecond)

	id, ok := store.TryGet(key)
	assert.True(t, ok)
	assert.Equal(t, "upstream-id", id)
}
