package gate

import (
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"teslatv/work/config"
	"teslatv/work/logger"
)

// NoticeWrongSecret is shown after a rejected attempt.
const NoticeWrongSecret = "Incorrect password, please try again."

// Gate is the password prompt in front of the hidden catalog page. It is a speed bump
// for the page link only: the page itself stays reachable by its URL.
type Gate struct {
	secret []byte
	hash   []byte
	target string
}

// New builds a gate from the configuration. A bcrypt hash takes precedence over the
// plaintext secret.
func New(cfg *config.Config) *Gate {
	g := &Gate{target: cfg.GateTarget}
	if cfg.GateSecretHash != "" {
		g.hash = []byte(cfg.GateSecretHash)
	} else {
		g.secret = []byte(cfg.GateSecret)
	}
	return g
}

// Check compares secret with the configured one and returns the page to redirect to
// when it matches.
func (g *Gate) Check(secret string) (string, bool) {
	if g.hash != nil {
		err := bcrypt.CompareHashAndPassword(g.hash, []byte(secret))
		if err == nil {
			return g.target, true
		}
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			logger.Warn("{gate - Check} configured hash is unusable: %v", err)
		}
		return "", false
	}

	if len(g.secret) == 0 {
		return "", false
	}
	if subtle.ConstantTimeCompare(g.secret, []byte(secret)) == 1 {
		return g.target, true
	}
	logger.Debug("{gate - Check} rejected attempt")
	return "", false
}
