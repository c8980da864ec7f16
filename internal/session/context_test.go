package session

import (
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/linetrace/simulator/pkg/core"
)

func TestNewRoomName(t *testing.T) {
	re := regexp.MustCompile(`^[A-Za-z0-9_-]{5}$`)
	for range 20 {
		assert.Regexp(t, re, NewRoomName())
	}
}

func TestNewContext(t *testing.T) {
	ctx := NewContext("lab")
	assert.Equal(t, "lab", ctx.Room())
	assert.Nil(t, ctx.GetRun())
	assert.Zero(t, ctx.RunID())

	generated := NewContext("")
	assert.Len(t, generated.Room(), RoomNameLength)
}

func TestContext_ThreadSafe(t *testing.T) {
	ctx := NewContext("lab")

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		go func(id uint) {
			defer wg.Done()
			ctx.SetRun(&core.Run{ID: id, Room: "lab"})
		}(uint(i + 1))
		go func() {
			defer wg.Done()
			_ = ctx.RunID()
			_ = ctx.GetRun()
		}()
	}
	wg.Wait()

	assert.NotZero(t, ctx.RunID())
	assert.Equal(t, "lab", ctx.GetRun().Room)
}
