package journal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordMessage(t *testing.T) {
	msg, ok := Record{"MESSAGE": "disk failure", "PRIORITY": "3"}.Message()
	assert.True(t, ok)
	assert.Equal(t, "disk failure", msg)

	_, ok = Record{"PRIORITY": "3"}.Message()
	assert.False(t, ok)

	msg, ok = Record{"MESSAGE": ""}.Message()
	assert.True(t, ok)
	assert.Empty(t, msg)
}
