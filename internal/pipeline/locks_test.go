package pipeline

import (
	"sync"
	"testing"
)

func TestUserLocks_MutualExclusion(t *testing.T) {
	ul := newUserLocks()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ul.lock("same-user")
			counter++
			ul.unlock("same-user")
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("counter = %d, want 50", counter)
	}
}

func TestUserLocks_ReleasesIdleEntries(t *testing.T) {
	ul := newUserLocks()
	ul.lock("u1")
	ul.unlock("u1")
	ul.lock("u2")
	ul.unlock("u2")

	ul.mu.Lock()
	defer ul.mu.Unlock()
	if len(ul.locks) != 0 {
		t.Errorf("idle lock entries = %d, want 0", len(ul.locks))
	}
}

func TestUserLocks_DistinctKeysDoNotBlock(t *testing.T) {
	ul := newUserLocks()
	ul.lock("alice")
	defer ul.unlock("alice")

	done := make(chan struct{})
	go func() {
		ul.lock("bob")
		ul.unlock("bob")
		close(done)
	}()
	<-done
}
