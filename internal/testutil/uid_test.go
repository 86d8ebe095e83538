package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequentialUIDs(t *testing.T) {
	g := NewSequentialUIDs("doc")
	assert.Equal(t, "doc-0001", g.Generate())
	assert.Equal(t, "doc-0002", g.Generate())
}

func TestSequentialUIDs_DefaultPrefix(t *testing.T) {
	assert.Equal(t, "uid-0001", NewSequentialUIDs("").Generate())
}

func TestSequentialUIDs_ThreadSafe(t *testing.T) {
	g := NewSequentialUIDs("t")
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id := g.Generate()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 1000)
}
