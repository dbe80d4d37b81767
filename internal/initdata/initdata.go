// Package initdata validates the signed identity payload handed to the
// service by the embedded chat-app runtime.
package initdata

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrInvalid covers every verification failure: malformed payload, missing
// or mismatched hash, undecodable user field. Callers treat all of them as
// a single fatal outcome for the login attempt.
var ErrInvalid = errors.New("initdata: invalid payload")

// secretSalt is the fixed domain-separation string the chat-app platform
// uses when deriving the per-installation signing key from the bot token.
const secretSalt = "WebAppData"

// Identity is the decoded, verified chat-app identity.
type Identity struct {
	UserID     int64
	Username   string
	FirstName  string
	LastName   string
	AuthDate   time.Time
	StartParam string
}

// Verifier checks payload signatures against the shared bot token.
type Verifier struct {
	secret []byte
}

// NewVerifier derives the signing secret from the shared bot token.
func NewVerifier(botToken string) *Verifier {
	mac := hmac.New(sha256.New, []byte(secretSalt))
	mac.Write([]byte(botToken))
	return &Verifier{secret: mac.Sum(nil)}
}

// Verify validates the signed payload and returns the decoded identity.
// Any parse or signature failure yields ErrInvalid; nothing about the
// failure mode is leaked to the caller.
func (v *Verifier) Verify(payload string) (Identity, error) {
	values, err := url.ParseQuery(payload)
	if err != nil {
		return Identity{}, ErrInvalid
	}

	provided := values.Get("hash")
	if provided == "" {
		return Identity{}, ErrInvalid
	}
	values.Del("hash")

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+values.Get(key))
	}
	checkString := strings.Join(pairs, "\n")

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(checkString))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(provided)) {
		return Identity{}, ErrInvalid
	}

	return decodeIdentity(values)
}

type userPayload struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func decodeIdentity(values url.Values) (Identity, error) {
	rawUser := values.Get("user")
	if rawUser == "" {
		return Identity{}, ErrInvalid
	}

	var user userPayload
	if err := json.Unmarshal([]byte(rawUser), &user); err != nil || user.ID == 0 {
		return Identity{}, ErrInvalid
	}

	var authDate time.Time
	if raw := values.Get("auth_date"); raw != "" {
		unix, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Identity{}, ErrInvalid
		}
		authDate = time.Unix(unix, 0).UTC()
	}

	return Identity{
		UserID:     user.ID,
		Username:   user.Username,
		FirstName:  user.FirstName,
		LastName:   user.LastName,
		AuthDate:   authDate,
		StartParam: values.Get("start_param"),
	}, nil
}
