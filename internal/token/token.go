// Package token encodes order actions into compact, signed, self-expiring
// strings that travel inside Telegram callback buttons and email links.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Action is an order action a token may carry.
type Action string

const (
	ActionConfirm    Action = "confirm"
	ActionDiscard    Action = "discard"
	ActionOnWay      Action = "on_way"
	ActionDelivered  Action = "delivered"
	ActionBizConfirm Action = "biz_confirm"
	ActionBizDiscard Action = "biz_discard"
)

// Single-character wire codes keep the token short enough that
// "order_delivered|<token>" fits Telegram's 64-byte callback-data limit.
var actionCodes = map[Action]string{
	ActionConfirm:    "c",
	ActionDiscard:    "d",
	ActionOnWay:      "w",
	ActionDelivered:  "v",
	ActionBizConfirm: "C",
	ActionBizDiscard: "D",
}

var codeActions = func() map[string]Action {
	m := make(map[string]Action, len(actionCodes))
	for a, c := range actionCodes {
		m[c] = a
	}
	return m
}()

// ParseAction maps an action name to its Action, reporting whether the name
// is known.
func ParseAction(s string) (Action, bool) {
	a := Action(s)
	_, ok := actionCodes[a]
	return a, ok
}

// Business reports whether the action targets the business fan-out rather
// than a single rider chat.
func (a Action) Business() bool {
	return a == ActionBizConfirm || a == ActionBizDiscard
}

const macLen = 6

// Telegram caps callback data at 64 bytes. The longest button prefix is
// "order_delivered|" (16 bytes), which leaves this much for the token itself.
const maxEncodedLen = 48

// Codec mints and verifies action tokens. A token is
//
//	base64url(orderID) "." actionCode "." issuedAt(base36) "." mac
//
// where mac is the first 6 bytes of HMAC-SHA256 over the preceding fields.
// TTL zero disables expiry.
type Codec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewCodec(secret string, ttl time.Duration) *Codec {
	return &Codec{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (c *Codec) Encode(orderID string, action Action) (string, error) {
	code, ok := actionCodes[action]
	if !ok {
		return "", ErrInvalidToken
	}
	if orderID == "" {
		return "", ErrInvalidToken
	}
	id := base64.RawURLEncoding.EncodeToString([]byte(orderID))
	issued := strconv.FormatInt(c.now().Unix(), 36)
	body := id + "." + code + "." + issued
	tok := body + "." + c.sign(body)
	if len(tok) > maxEncodedLen {
		return "", ErrInvalidToken
	}
	return tok, nil
}

// Decode reverses Encode. Any malformed shape, unknown action code or bad
// signature is ErrInvalidToken; a stale issued-at is ErrTokenExpired.
func (c *Codec) Decode(tok string) (string, Action, error) {
	parts := strings.Split(tok, ".")
	if len(parts) != 4 {
		return "", "", ErrInvalidToken
	}
	body := strings.Join(parts[:3], ".")
	if subtle.ConstantTimeCompare([]byte(c.sign(body)), []byte(parts[3])) != 1 {
		return "", "", ErrInvalidToken
	}

	rawID, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil || len(rawID) == 0 {
		return "", "", ErrInvalidToken
	}
	action, ok := codeActions[parts[1]]
	if !ok {
		return "", "", ErrInvalidToken
	}
	issued, err := strconv.ParseInt(parts[2], 36, 64)
	if err != nil {
		return "", "", ErrInvalidToken
	}
	if c.ttl > 0 && c.now().Sub(time.Unix(issued, 0)) > c.ttl {
		return "", "", ErrTokenExpired
	}
	return string(rawID), action, nil
}

func (c *Codec) sign(body string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(body))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil)[:macLen])
}
