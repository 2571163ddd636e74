package security

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"buddy-chat/internal/chaterr"
	"buddy-chat/internal/models"
	"buddy-chat/internal/observability"
)

// Limit is a ceiling of Max events per Window.
type Limit struct {
	Max    int
	Window time.Duration
}

// Config tunes the gate.
type Config struct {
	MaxPayloadBytes      int
	MaxMessageChars      int
	MaxTokenBytes        int
	ConnectionsPerMinute int
	MessageLimits        map[string]Limit
	DefaultLimit         Limit
	// MaxSpecialRatio is the highest tolerated share of markup characters in a text.
	MaxSpecialRatio float64
	// MinRatioLength is the shortest text the ratio check applies to.
	MinRatioLength int
	// IdleExpiry is how long a rate key survives without hits.
	IdleExpiry time.Duration
}

// DefaultMessageLimits are the per-type ceilings applied per client IP.
func DefaultMessageLimits() map[string]Limit {
	return map[string]Limit{
		models.TypePrivateMessage: {Max: 60, Window: time.Minute},
		models.TypeTypingStart:    {Max: 10, Window: 10 * time.Second},
		models.TypeTypingStop:     {Max: 10, Window: 10 * time.Second},
		models.TypeAuthenticate:   {Max: 5, Window: 30 * time.Second},
		models.TypePing:           {Max: 30, Window: time.Minute},
	}
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		MaxPayloadBytes:      10 * 1024,
		MaxMessageChars:      1000,
		MaxTokenBytes:        4096,
		ConnectionsPerMinute: 10,
		MessageLimits:        DefaultMessageLimits(),
		DefaultLimit:         Limit{Max: 100, Window: time.Minute},
		MaxSpecialRatio:      0.3,
		MinRatioLength:       10,
		IdleExpiry:           time.Hour,
	}
}

// Gate holds the admission predicates evaluated before any inbound frame is processed.
type Gate struct {
	cfg     Config
	limiter *SlidingWindowLimiter
}

// NewGate constructs a Gate.
func NewGate(cfg Config) *Gate {
	if cfg.MessageLimits == nil {
		cfg.MessageLimits = DefaultMessageLimits()
	}
	if cfg.IdleExpiry <= 0 {
		cfg.IdleExpiry = time.Hour
	}
	return &Gate{cfg: cfg, limiter: NewSlidingWindowLimiter()}
}

// MaxPayloadBytes is the frame ceiling.
func (g *Gate) MaxPayloadBytes() int { return g.cfg.MaxPayloadBytes }

// ValidateSize reports whether a raw frame fits the payload ceiling.
func (g *Gate) ValidateSize(payload []byte) bool {
	return len(payload) <= g.cfg.MaxPayloadBytes
}

// ValidateStructure checks the type discriminant and the type-specific shape.
func (g *Gate) ValidateStructure(msg *models.InboundMessage) error {
	switch msg.Type {
	case "":
		return chaterr.ErrMalformed
	case models.TypeAuthenticate:
		if msg.Token == nil || *msg.Token == "" {
			return chaterr.Wrap(chaterr.ErrMalformed, fmt.Errorf("missing token"))
		}
		if g.cfg.MaxTokenBytes > 0 && len(*msg.Token) > g.cfg.MaxTokenBytes {
			return chaterr.Wrap(chaterr.ErrMalformed, fmt.Errorf("token too long"))
		}
	case models.TypePrivateMessage:
		if msg.ToUserID == nil || *msg.ToUserID <= 0 {
			return chaterr.Wrap(chaterr.ErrMalformed, fmt.Errorf("missing recipient"))
		}
		if msg.Message == nil || strings.TrimSpace(*msg.Message) == "" {
			return chaterr.Wrap(chaterr.ErrMalformed, fmt.Errorf("missing message"))
		}
		if utf8.RuneCountInString(*msg.Message) > g.cfg.MaxMessageChars {
			return chaterr.ErrMessageTooLong
		}
	case models.TypeTypingStart, models.TypeTypingStop:
		if msg.ToUserID == nil || *msg.ToUserID <= 0 {
			return chaterr.Wrap(chaterr.ErrMalformed, fmt.Errorf("missing recipient"))
		}
	case models.TypePing:
	default:
		return chaterr.Wrap(chaterr.ErrUnknownType, fmt.Errorf("type %q", msg.Type))
	}
	return nil
}

// CheckConnectionRate admits at most ConnectionsPerMinute new connections per IP.
func (g *Gate) CheckConnectionRate(ip string) bool {
	if g.limiter.Allow("conn:"+ip, g.cfg.ConnectionsPerMinute, time.Minute) {
		return true
	}
	observability.IncRateLimited("connection")
	return false
}

// CheckMessageRate applies the ceiling of msgType to the (ip, msgType) pair.
func (g *Gate) CheckMessageRate(ip, msgType string) bool {
	limit, ok := g.cfg.MessageLimits[msgType]
	if !ok {
		limit = g.cfg.DefaultLimit
	}
	if g.limiter.Allow("msg:"+ip+":"+msgType, limit.Max, limit.Window) {
		return true
	}
	observability.IncRateLimited(msgType)
	return false
}

var unsafePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<\s*/?\s*(script|iframe|object|embed|applet|link|style|meta|svg|img|form|base)\b`),
	regexp.MustCompile(`(?i)\b(javascript|vbscript|livescript)\s*:`),
	regexp.MustCompile(`(?i)data\s*:\s*text/html`),
	regexp.MustCompile(`(?i)\bon[a-z]+\s*=`),
	regexp.MustCompile(`(?i)expression\s*\(`),
}

const markupChars = `<>{}[]\/;&="'` + "`"

// ValidateContent rejects markup-like text and text dominated by markup characters.
func (g *Gate) ValidateContent(text string) error {
	for _, p := range unsafePatterns {
		if p.MatchString(text) {
			return chaterr.Wrap(chaterr.ErrUnsafeContent, fmt.Errorf("matched %s", p.String()))
		}
	}

	total := utf8.RuneCountInString(text)
	if total < g.cfg.MinRatioLength || g.cfg.MaxSpecialRatio <= 0 {
		return nil
	}
	special := 0
	for _, r := range text {
		if strings.ContainsRune(markupChars, r) {
			special++
		}
	}
	if float64(special)/float64(total) > g.cfg.MaxSpecialRatio {
		return chaterr.Wrap(chaterr.ErrUnsafeContent, fmt.Errorf("special character ratio %d/%d", special, total))
	}
	return nil
}

// Sanitize HTML-escapes text. Already escaped input is normalized first, so
// Sanitize(Sanitize(s)) == Sanitize(s).
func Sanitize(text string) string {
	return html.EscapeString(html.UnescapeString(text))
}

// Sweep drops rate keys idle for longer than IdleExpiry.
func (g *Gate) Sweep() int {
	return g.limiter.Sweep(g.cfg.IdleExpiry)
}

// RunSweeper sweeps on every tick until ctx is done.
func (g *Gate) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := g.Sweep()
			zap.L().Debug("rate limit sweep", zap.Int("removed", removed), zap.Int("remaining", g.limiter.Len()))
		}
	}
}
