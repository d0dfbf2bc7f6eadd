package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDashboardClosedBelowMinSamples(t *testing.T) {
	d := NewDashboard(50, 10, time.Second, 0.99)
	d.Record(Sample{Success: false})
	state, _ := d.Evaluate()
	assert.Equal(t, StateClosed, state)
}

func TestDashboardOpensOnHighErrorRate(t *testing.T) {
	d := NewDashboard(50, 5, time.Second, 0.99)
	for i := 0; i < 10; i++ {
		d.Record(Sample{Success: i >= 4, DeliveryLatency: 100 * time.Millisecond})
	}
	state, metrics := d.Evaluate()
	assert.Equal(t, StateOpen, state)
	assert.InDelta(t, 0.4, metrics.ErrorRate, 0.001)
}

func TestDashboardHalfOpenOnModerateErrorRate(t *testing.T) {
	d := NewDashboard(50, 5, time.Second, 0.99)
	for i := 0; i < 20; i++ {
		d.Record(Sample{Success: i >= 3, DeliveryLatency: 100 * time.Millisecond})
	}
	state, _ := d.Evaluate()
	assert.Equal(t, StateHalfOpen, state)
}

func TestDashboardClosedWhenHealthy(t *testing.T) {
	d := NewDashboard(50, 5, time.Second, 0.99)
	for i := 0; i < 20; i++ {
		d.Record(Sample{Success: true, DeliveryLatency: 10 * time.Millisecond})
	}
	state, _ := d.Evaluate()
	assert.Equal(t, StateClosed, state)
}
