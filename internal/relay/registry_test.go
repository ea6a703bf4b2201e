// ABOUTME: Tests for the connection registry.
// ABOUTME: Covers the unregister race and sink replacement.

package relay

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistrySendDelivers(t *testing.T) {
	r := NewRegistry()
	var got []any
	r.Register("c1", func(frame any) { got = append(got, frame) })

	r.Send("c1", newErrorFrame("one"))
	r.Send("c1", newErrorFrame("two"))

	assert.Len(t, got, 2)
	assert.Equal(t, 1, r.Len())
}

func TestRegistrySendUnknownIDIsNoOp(t *testing.T) {
	r := NewRegistry()
	assert.NotPanics(t, func() {
		r.Send("nobody", newErrorFrame("dropped"))
	})
}

func TestRegistrySendAfterUnregister(t *testing.T) {
	r := NewRegistry()
	delivered := 0
	r.Register("c1", func(frame any) { delivered++ })
	r.Unregister("c1")

	r.Send("c1", newErrorFrame("late"))
	assert.Equal(t, 0, delivered)
	assert.Equal(t, 0, r.Len())
}

func TestRegistryRegisterReplacesSink(t *testing.T) {
	r := NewRegistry()
	first, second := 0, 0
	r.Register("c1", func(frame any) { first++ })
	r.Register("c1", func(frame any) { second++ })

	r.Send("c1", newErrorFrame("hello"))
	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var mu sync.Mutex
	delivered := 0

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(3)
		id := string(rune('a' + i))
		go func() {
			defer wg.Done()
			r.Register(id, func(frame any) {
				mu.Lock()
				delivered++
				mu.Unlock()
			})
		}()
		go func() {
			defer wg.Done()
			r.Send(id, newErrorFrame("ping"))
		}()
		go func() {
			defer wg.Done()
			r.Unregister(id)
		}()
	}
	wg.Wait()
	assert.GreaterOrEqual(t, delivered, 0)
}
