package tcp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUpdateRTOAppliesEWMA(t *testing.T) {
	got := updateRTO(3.0, 1.0)
	assert.InDelta(t, (3.0+2.5*1.0)/2, got, 1e-9)
}

func TestUpdateRTOConvergesTowardStableSample(t *testing.T) {
	rto := initialRTO
	for i := 0; i < 50; i++ {
		rto = updateRTO(rto, 0.2)
	}
	assert.InDelta(t, 0.5, rto, 0.01)
}

func TestRtoDurationConvertsVirtualSecondsToDuration(t *testing.T) {
	assert.Equal(t, 1500*time.Millisecond, rtoDuration(1.5))
}

func TestMinIntPicksSmallestOfThree(t *testing.T) {
	assert.Equal(t, 1, minInt(3, 2, 1))
	assert.Equal(t, 1, minInt(1, 2, 3))
	assert.Equal(t, 2, minInt(5, 2, 9))
}
