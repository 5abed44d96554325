// internal/publisher/publisher_test.go
package publisher

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopics(t *testing.T) {
	assert.Equal(t, "renogy/aabbccddeeff/state", StateTopic("renogy", "AA:BB:CC:DD:EE:FF"))
	assert.Equal(t, "renogy/aabbccddeeff/availability", AvailabilityTopic("renogy", "AA:BB:CC:DD:EE:FF"))
	assert.Equal(t, "solar/shed/aabbccddeeff/state", StateTopic("solar/shed", "aa:bb:cc:dd:ee:ff"))
}

func TestTopicID(t *testing.T) {
	assert.Equal(t, "aabbccddeeff", topicID("AA:BB:CC:DD:EE:FF"))
	assert.Equal(t, "f86cb2917d43", topicID("f8:6c:b2:91:7d:43"))
}
