package action

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		in   string
		want Channel
	}{
		{"call", Call},
		{"CALL", Call},
		{" sms ", SMS},
		{"WhatsApp", WhatsApp},
		{"email", Email},
		{"pager", Unknown},
		{"", Unknown},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, Parse(tc.in))
		})
	}
}

func TestChannelString(t *testing.T) {
	assert.Equal(t, "whatsapp", WhatsApp.String())
	assert.Equal(t, "unknown", Unknown.String())
	assert.True(t, Email.Known())
	assert.False(t, Unknown.Known())
	assert.Equal(t, []Channel{Call, SMS, WhatsApp, Email}, All())
}
