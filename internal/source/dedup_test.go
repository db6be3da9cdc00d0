package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

func TestDedupWindow_CollapsesDuplicates(t *testing.T) {
	d := newDedupWindow(time.Hour)

	assert.False(t, d.isDuplicate("a"), "first sighting passes")
	assert.True(t, d.isDuplicate("a"), "second sighting is a duplicate")
	assert.False(t, d.isDuplicate("b"), "distinct keys are independent")
	assert.Equal(t, 2, d.size())
}

func TestDedupWindow_ExpiredKeyIsNewAgain(t *testing.T) {
	d := newDedupWindow(time.Millisecond)

	assert.False(t, d.isDuplicate("a"))
	time.Sleep(5 * time.Millisecond)
	assert.False(t, d.isDuplicate("a"), "re-seen after eviction window counts as new")
}

func TestDedupWindow_Cleanup(t *testing.T) {
	d := newDedupWindow(time.Millisecond)

	d.isDuplicate("a")
	d.isDuplicate("b")
	assert.Equal(t, 2, d.size())

	time.Sleep(5 * time.Millisecond)
	d.cleanup()
	assert.Equal(t, 0, d.size())
}

func TestEmitter_NoDeliveryAfterClose(t *testing.T) {
	e := newEmitter()

	var got int
	e.subscribe(func(domain.LeaderFillEvent) { got++ })

	e.emit(domain.LeaderFillEvent{DedupeKey: "k1"})
	assert.Equal(t, 1, got)

	e.close()
	e.emit(domain.LeaderFillEvent{DedupeKey: "k2"})
	assert.Equal(t, 1, got, "closed emitter drops events")
}

func TestEmitter_Unsubscribe(t *testing.T) {
	e := newEmitter()

	var got int
	unsub := e.subscribe(func(domain.LeaderFillEvent) { got++ })

	e.emit(domain.LeaderFillEvent{})
	unsub()
	e.emit(domain.LeaderFillEvent{})

	assert.Equal(t, 1, got)
}
