// Package callback issues and verifies the compact signed tokens carried in
// admin approve/reject buttons.
//
// A token looks like
//
//	a<deposit id, 22 chars>.<expiry, base36 unix seconds>.<signature, 22 chars>
//
// and stays well under Telegram's 64-byte callback data limit.
package callback

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/paywall/internal/clock"
	"github.com/dmitrijs2005/paywall/internal/common"
	"github.com/google/uuid"
)

type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

func (a Action) code() (byte, bool) {
	switch a {
	case ActionApprove:
		return 'a', true
	case ActionReject:
		return 'r', true
	}
	return 0, false
}

func actionFromCode(c byte) (Action, bool) {
	switch c {
	case 'a':
		return ActionApprove, true
	case 'r':
		return ActionReject, true
	}
	return "", false
}

const sigLen = 16

var enc = base64.RawURLEncoding

// Claims is what a token binds.
type Claims struct {
	DepositID string
	Action    Action
	ExpiresAt time.Time
}

type Signer struct {
	secret []byte
	clock  clock.Clock
}

func NewSigner(secret []byte, c clock.Clock) *Signer {
	if c == nil {
		c = clock.Real{}
	}
	return &Signer{secret: secret, clock: c}
}

// Issue returns a token for (depositID, action) valid for ttl.
func (s *Signer) Issue(depositID string, action Action, ttl time.Duration) (string, error) {
	code, ok := action.code()
	if !ok {
		return "", errors.New("unknown callback action")
	}
	id, err := uuid.Parse(depositID)
	if err != nil {
		return "", err
	}

	exp := s.clock.Now().Add(ttl).Unix()
	body := string(code) + enc.EncodeToString(id[:]) + "." + strconv.FormatInt(exp, 36)
	return body + "." + enc.EncodeToString(s.sign(body)), nil
}

// Parse checks the signature and expiry and returns the bound claims.
func (s *Signer) Parse(token string) (*Claims, error) {
	i := strings.LastIndexByte(token, '.')
	if i <= 0 {
		return nil, common.ErrInvalidToken
	}
	body, sigPart := token[:i], token[i+1:]

	sig, err := enc.DecodeString(sigPart)
	if err != nil || !hmac.Equal(sig, s.sign(body)) {
		return nil, common.ErrInvalidToken
	}

	head, expPart, ok := strings.Cut(body, ".")
	if !ok || len(head) < 2 {
		return nil, common.ErrInvalidToken
	}
	action, ok := actionFromCode(head[0])
	if !ok {
		return nil, common.ErrInvalidToken
	}
	raw, err := enc.DecodeString(head[1:])
	if err != nil {
		return nil, common.ErrInvalidToken
	}
	id, err := uuid.FromBytes(raw)
	if err != nil {
		return nil, common.ErrInvalidToken
	}
	exp, err := strconv.ParseInt(expPart, 36, 64)
	if err != nil {
		return nil, common.ErrInvalidToken
	}

	expiresAt := time.Unix(exp, 0).UTC()
	if !s.clock.Now().Before(expiresAt) {
		return nil, common.ErrInvalidToken
	}
	return &Claims{DepositID: id.String(), Action: action, ExpiresAt: expiresAt}, nil
}

// Verify succeeds only when token is valid and bound to exactly
// (depositID, action).
func (s *Signer) Verify(token, depositID string, action Action) error {
	c, err := s.Parse(token)
	if err != nil {
		return err
	}
	if c.Action != action || !strings.EqualFold(c.DepositID, depositID) {
		return common.ErrInvalidToken
	}
	return nil
}

func (s *Signer) sign(body string) []byte {
	m := hmac.New(sha256.New, s.secret)
	m.Write([]byte(body))
	return m.Sum(nil)[:sigLen]
}
