package watcher

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangeKindText(t *testing.T) {
	for _, k := range []ChangeKind{Create, Update, Delete} {
		text, err := k.MarshalText()
		require.NoError(t, err)
		var back ChangeKind
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, k, back)
	}

	_, err := ChangeKind(0).MarshalText()
	assert.Error(t, err)
	var k ChangeKind
	assert.Error(t, k.UnmarshalText([]byte("rename")))
	assert.False(t, ChangeKind(4).Valid())
}

func TestChangeEventJSON(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	data, err := json.Marshal(ChangeEvent{Path: "/w/a.txt", Kind: Update, ObservedAt: at})
	require.NoError(t, err)
	assert.JSONEq(t, `{"path":"/w/a.txt","kind":"update","observed_at":"2024-05-01T12:00:00Z"}`, string(data))

	var back ChangeEvent
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, Update, back.Kind)
	assert.True(t, at.Equal(back.ObservedAt))
}
