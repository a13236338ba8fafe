package database

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	locks := NewKeyedMutex()

	var (
		wg      sync.WaitGroup
		counter int
		max     int
		inside  int
		mu      sync.Mutex
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("u1:u2")
			defer unlock()

			mu.Lock()
			inside++
			if inside > max {
				max = inside
			}
			mu.Unlock()

			counter++

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 1, max)
	assert.Equal(t, 0, locks.Len())
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	locks := NewKeyedMutex()

	unlockA := locks.Lock("a")
	done := make(chan struct{})
	go func() {
		unlock := locks.Lock("b")
		unlock()
		close(done)
	}()
	<-done

	assert.Equal(t, 1, locks.Len())
	unlockA()
	assert.Equal(t, 0, locks.Len())
}

func TestMigrateCreatesSchema(t *testing.T) {
	db := openTestDB(t)
	for _, table := range []string{"users", "sessions", "inboxes", "inbox_members", "messages", "friend_requests", "group_invitations"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}
}
