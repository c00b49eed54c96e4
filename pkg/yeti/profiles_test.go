package yeti

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapacityWh(t *testing.T) {
	assert.Equal(t, 1425.0, CapacityWh("Yeti 1400"))
	assert.Equal(t, 1425.0, CapacityWh(" yeti 1400 "), "lookup should ignore case and padding")
	assert.Equal(t, 6071.0, CapacityWh("Yeti 6000X"))
	assert.Equal(t, 0.0, CapacityWh("Yeti 9000Z"), "unknown models have no capacity")
	assert.Equal(t, 0.0, CapacityWh(""))
}
