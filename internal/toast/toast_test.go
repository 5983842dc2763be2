package toast

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShowReplacesCurrent(t *testing.T) {
	p := New(time.Hour)
	defer p.Close()
	p.Show("A", Success)
	p.Show("B", Error)
	cur, ok := p.Current()
	require.True(t, ok)
	assert.Equal(t, "B", cur.Message)
	assert.Equal(t, Error, cur.Kind)
}

func TestExpires(t *testing.T) {
	p := New(20 * time.Millisecond)
	p.Show("done", Success)
	_, ok := p.Current()
	assert.True(t, ok)
	assert.Eventually(t, func() bool {
		_, ok := p.Current()
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestReplacementRestartsTimer(t *testing.T) {
	p := New(60 * time.Millisecond)
	defer p.Close()
	p.Show("A", Success)
	time.Sleep(40 * time.Millisecond)
	p.Show("B", Success)
	time.Sleep(40 * time.Millisecond)
	cur, ok := p.Current()
	require.True(t, ok, "B must outlive A's timer")
	assert.Equal(t, "B", cur.Message)
}

func TestDismissCancelsExpiry(t *testing.T) {
	var m sync.Mutex
	var events []*Toast
	p := New(20 * time.Millisecond)
	p.OnChange(func(t *Toast) {
		m.Lock()
		events = append(events, t)
		m.Unlock()
	})
	p.Show("A", Error)
	p.Dismiss()
	time.Sleep(50 * time.Millisecond)

	_, ok := p.Current()
	assert.False(t, ok)
	m.Lock()
	defer m.Unlock()
	require.Len(t, events, 2)
	assert.Equal(t, "A", events[0].Message)
	assert.Nil(t, events[1])
}

func TestDismissEmpty(t *testing.T) {
	called := false
	p := New(time.Second)
	p.OnChange(func(*Toast) { called = true })
	p.Dismiss()
	assert.False(t, called)
}

func TestKindJSON(t *testing.T) {
	b, err := json.Marshal(Toast{ID: "1", Message: "ok", Kind: Success})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"kind":"success"`)

	_, err = json.Marshal(Toast{Kind: Kind(0)})
	assert.Error(t, err)
}

func TestKindFromJSON(t *testing.T) {
	var toast Toast
	require.NoError(t, json.Unmarshal([]byte(`{"id":"1","message":"no","kind":"error"}`), &toast))
	assert.Equal(t, Error, toast.Kind)
	assert.Error(t, json.Unmarshal([]byte(`{"kind":"warning"}`), &toast))
}
