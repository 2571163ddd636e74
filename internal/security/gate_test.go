package security

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buddy-chat/internal/chaterr"
	"buddy-chat/internal/models"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func TestValidateSize(t *testing.T) {
	g := NewGate(DefaultConfig())

	assert.True(t, g.ValidateSize(make([]byte, 10*1024)))
	assert.False(t, g.ValidateSize(make([]byte, 10*1024+1)))
}

func TestValidateStructure(t *testing.T) {
	g := NewGate(DefaultConfig())

	tests := []struct {
		name string
		msg  models.InboundMessage
		want error
	}{
		{"missing type", models.InboundMessage{}, chaterr.ErrMalformed},
		{"unknown type", models.InboundMessage{Type: "group_message"}, chaterr.ErrUnknownType},
		{"auth ok", models.InboundMessage{Type: models.TypeAuthenticate, Token: strPtr("t")}, nil},
		{"auth no token", models.InboundMessage{Type: models.TypeAuthenticate}, chaterr.ErrMalformed},
		{"chat ok", models.InboundMessage{Type: models.TypePrivateMessage, ToUserID: intPtr(2), Message: strPtr("hi")}, nil},
		{"chat no recipient", models.InboundMessage{Type: models.TypePrivateMessage, Message: strPtr("hi")}, chaterr.ErrMalformed},
		{"chat bad recipient", models.InboundMessage{Type: models.TypePrivateMessage, ToUserID: intPtr(-1), Message: strPtr("hi")}, chaterr.ErrMalformed},
		{"chat blank body", models.InboundMessage{Type: models.TypePrivateMessage, ToUserID: intPtr(2), Message: strPtr("   ")}, chaterr.ErrMalformed},
		{"chat too long", models.InboundMessage{Type: models.TypePrivateMessage, ToUserID: intPtr(2), Message: strPtr(strings.Repeat("a", 1001))}, chaterr.ErrMessageTooLong},
		{"typing ok", models.InboundMessage{Type: models.TypeTypingStart, ToUserID: intPtr(2)}, nil},
		{"typing no recipient", models.InboundMessage{Type: models.TypeTypingStop}, chaterr.ErrMalformed},
		{"ping", models.InboundMessage{Type: models.TypePing}, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := g.ValidateStructure(&tc.msg)
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestMessageLengthCountsCharacters(t *testing.T) {
	g := NewGate(DefaultConfig())
	body := strings.Repeat("é", 1000)
	msg := models.InboundMessage{Type: models.TypePrivateMessage, ToUserID: intPtr(2), Message: &body}
	assert.NoError(t, g.ValidateStructure(&msg))
}

func TestValidateContent(t *testing.T) {
	g := NewGate(DefaultConfig())

	assert.NoError(t, g.ValidateContent("hello there"))
	assert.NoError(t, g.ValidateContent("see you at 5 & bring money = fun"))
	assert.NoError(t, g.ValidateContent("<3"))

	for _, bad := range []string{
		"<script>alert(1)</script>",
		"< SCRIPT src=x>",
		"click javascript:alert(1)",
		`<a onclick="x">`,
		`<img src=x onerror=alert(1)>`,
		"{{[[<<>>]]}} ;;;;",
	} {
		assert.ErrorIs(t, g.ValidateContent(bad), chaterr.ErrUnsafeContent, bad)
	}
}

func TestSanitizeIsStable(t *testing.T) {
	for _, in := range []string{
		"hello",
		"fish & chips",
		`she said "hi" & 'bye'`,
		"a < b > c",
		"already &amp; escaped",
	} {
		once := Sanitize(in)
		assert.Equal(t, once, Sanitize(once), in)
		assert.NotContains(t, once, "<")
		assert.NotContains(t, once, `"`)
	}
	assert.Equal(t, "fish &amp; chips", Sanitize("fish & chips"))
}

func TestCheckMessageRateScenario(t *testing.T) {
	g := NewGate(DefaultConfig())
	now := time.Now()
	g.limiter.now = func() time.Time { return now }

	for i := 0; i < 60; i++ {
		require.True(t, g.CheckMessageRate("10.0.0.1", models.TypePrivateMessage), "message %d", i+1)
	}
	assert.False(t, g.CheckMessageRate("10.0.0.1", models.TypePrivateMessage))

	// independent per type and per ip
	assert.True(t, g.CheckMessageRate("10.0.0.1", models.TypeTypingStart))
	assert.True(t, g.CheckMessageRate("10.0.0.2", models.TypePrivateMessage))

	now = now.Add(61 * time.Second)
	assert.True(t, g.CheckMessageRate("10.0.0.1", models.TypePrivateMessage))
}

func TestCheckConnectionRate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConnectionsPerMinute = 2
	g := NewGate(cfg)

	assert.True(t, g.CheckConnectionRate("1.1.1.1"))
	assert.True(t, g.CheckConnectionRate("1.1.1.1"))
	assert.False(t, g.CheckConnectionRate("1.1.1.1"))
	assert.True(t, g.CheckConnectionRate("2.2.2.2"))
}

func TestSweepRemovesIdleKeys(t *testing.T) {
	g := NewGate(DefaultConfig())
	now := time.Now()
	g.limiter.now = func() time.Time { return now }

	g.CheckMessageRate("1.1.1.1", models.TypePing)
	g.CheckConnectionRate("1.1.1.1")
	require.Equal(t, 2, g.limiter.Len())

	now = now.Add(30 * time.Minute)
	g.CheckConnectionRate("1.1.1.1")
	assert.Equal(t, 0, g.Sweep())

	now = now.Add(45 * time.Minute)
	assert.Equal(t, 1, g.Sweep())
	assert.Equal(t, 1, g.limiter.Len())
}
