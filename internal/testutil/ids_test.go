package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequenceIDGenerator_Sequence(t *testing.T) {
	gen := NewSequenceIDGenerator("inv")

	assert.Equal(t, "inv-0001", gen.Generate())
	assert.Equal(t, "inv-0002", gen.Generate())
	assert.Equal(t, int64(2), gen.Count())
	assert.Equal(t, "inv-0002", gen.Last())
}

func TestSequenceIDGenerator_DefaultPrefix(t *testing.T) {
	gen := NewSequenceIDGenerator("")
	assert.Empty(t, gen.Last())
	assert.Equal(t, "test-invocation-0001", gen.Generate())
}

func TestSequenceIDGenerator_Reset(t *testing.T) {
	gen := NewSequenceIDGenerator("inv")
	gen.Generate()
	gen.Generate()

	gen.Reset()
	assert.Equal(t, int64(0), gen.Count())
	assert.Equal(t, "inv-0001", gen.Generate())
}

func TestSequenceIDGenerator_ThreadSafe(t *testing.T) {
	gen := NewSequenceIDGenerator("inv")
	const goroutines = 50

	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			id := gen.Generate()
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines, "all ids must be unique")
}

func TestModelFixture(t *testing.T) {
	m := Model()
	person, ok := m.Entity("Person")
	assert.True(t, ok)

	path, err := person.ResolveDotted("address.city")
	assert.NoError(t, err)
	assert.Equal(t, "address_city", path.Column)
}
