package m365

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseStore_SetAndGet(t *testing.T) {
	store := NewResponseStore(time.Minute)

	store.Set("resp_1", json.RawMessage(`{"id":"resp_1"}`), "conv_1", 100)

	got, ok := store.TryGet("resp_1")
	require.True(t, ok)
	assert.Equal(t, "resp_1", got.ResponseID)
	assert.Equal(t, "conv_1", got.ConversationID)
	assert.JSONEq(t, `{"id":"resp_1"}`, string(got.ResponseBody))
}

func TestResponseStore_TryGet_ReturnsACloneNotAnAlias(t *testing.T) {
	store := NewResponseStore(time.Minute)
	store.Set("resp_1", json.RawMessage(`{"id":"resp_1"}`), "conv_1", 100)

	first, _ := store.TryGet("resp_1")
	first.ResponseBody[2] = 'X' // mutate the returned clone in place

	second, _ := store.TryGet("resp_1")
	assert.JSONEq(t, `{"id":"resp_1"}`, string(second.ResponseBody))
}

func TestResponseStore_TryDelete(t *testing.T) {
	store := NewResponseStore(time.Minute)
	store.Set("resp_1", json.RawMessage(`{}`), "conv_1", 100)

	assert.True(t, store.TryDelete("resp_1"))
	assert.False(t, store.TryDelete("resp_1"))

	_, ok := store.TryGet("resp_1")
	assert.False(t, ok)
}

func TestResponseStore_List_OrdersByCreatedAtDescending(t *testing.T) {
	store := NewResponseStore(time.Minute)

	store.Set("resp_1", json.RawMessage(`{}`), "conv_1", 100)
	store.Set("resp_2", json.RawMessage(`{}`), "conv_1", 300)
	store.Set("resp_3", json.RawMessage(`{}`), "conv_1", 200)

	list := store.List(0)

	require.Len(t, list.Responses, 3)
	assert.Equal(t, "resp_2", list.Responses[0].ResponseID)
	assert.Equal(t, "resp_3", list.Responses[1].ResponseID)
	assert.Equal(t, "resp_1", list.Responses[2].ResponseID)
	assert.Equal(t, "resp_2", list.FirstID)
	assert.Equal(t, "resp_1", list.LastID)
	assert.False(t, list.HasMore)
}

func TestResponseStore_List_AppliesLimitAndSetsHasMore(t *testing.T) {
	store := NewResponseStore(time.Minute)

	for i := 0; i < 5; i++ {
		store.Set(string(rune('a'+i)), json.RawMessage(`{}`), "conv", int64(i))
	}

	list := store.List(2)
	assert.Len(t, list.Responses, 2)
	assert.True(t, list.HasMore)
}

func TestResponseStore_ConversationLink(t *testing.T) {
	store := NewResponseStore(time.Minute)

	_, ok := store.TryGetConversationLink("resp_1")
	assert.False(t, ok)

	store.SetConversationLink("resp_1", "conv_1")

	link, ok := store.TryGetConversationLink("resp_1")
	require.True(t, ok)
	assert.Equal(t, "conv_1", link.ConversationID)
}
