package maplock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSerializesSameKey(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Lock("acc")
			counter++
			m.Unlock("acc")
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Zero(t, m.Len())
}

func TestIndependentKeys(t *testing.T) {
	m := New()
	m.Lock("a")
	m.Lock("b")
	assert.Equal(t, 2, m.Len())
	m.Unlock("a")
	m.Unlock("b")
	assert.Zero(t, m.Len())
}
