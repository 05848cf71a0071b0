package sessions

import (
	"sync"
	"testing"
)

func TestKeyedLockerSerializesSameKey(t *testing.T) {
	locker := NewKeyedLocker()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := locker.Lock("k")
			counter++
			release()
		}()
	}
	wg.Wait()

	if counter != 100 {
		t.Errorf("counter = %d, want 100", counter)
	}
}

func TestKeyedLockerIndependentKeys(t *testing.T) {
	locker := NewKeyedLocker()

	releaseA := locker.Lock("a")
	defer releaseA()

	// A held lock on "a" must not block "b".
	done := make(chan struct{})
	go func() {
		release := locker.Lock("b")
		release()
		close(done)
	}()
	<-done
}

func TestKeyedLockerReleasesEntry(t *testing.T) {
	locker := NewKeyedLocker()

	release := locker.Lock("k")
	release()

	locker.mu.Lock()
	defer locker.mu.Unlock()
	if len(locker.locks) != 0 {
		t.Errorf("len(locks) = %d, want 0", len(locker.locks))
	}
}
