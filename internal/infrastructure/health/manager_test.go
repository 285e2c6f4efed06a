package health

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHealthManager_Aggregation(t *testing.T) {
	hm := NewHealthManager(nil)
	assert.True(t, hm.IsHealthy(), "empty manager is healthy")

	hm.Register("oracle", func() error { return nil })
	assert.True(t, hm.IsHealthy())

	hm.Register("venues", func() error { return errors.New("only 1 live") })
	healthy, status := hm.Check()
	assert.False(t, healthy)
	assert.Equal(t, StatusHealthy, status["oracle"])
	assert.Equal(t, "Unhealthy: only 1 live", status["venues"])
	assert.Equal(t, []string{"oracle", "venues"}, hm.Components())

	hm.Unregister("venues")
	assert.True(t, hm.IsHealthy())
	assert.Len(t, hm.GetStatus(), 1)
}

func TestHealthManager_CheckMayReenter(t *testing.T) {
	hm := NewHealthManager(nil)
	hm.Register("self", func() error {
		hm.Register("late", func() error { return nil })
		return nil
	})
	assert.True(t, hm.IsHealthy())
	assert.Contains(t, hm.Components(), "late")
}
