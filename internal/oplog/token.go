package oplog

import (
	"strings"

	"github.com/google/uuid"
)

const tokenLength = 12

// TokenProvider issues operation correlation tokens.
type TokenProvider interface {
	NewToken() (string, error)
}

type uuidTokenProvider struct{}

// NewUUIDTokenProvider issues short random tokens derived from UUIDv4.
func NewUUIDTokenProvider() TokenProvider {
	return &uuidTokenProvider{}
}

func (p *uuidTokenProvider) NewToken() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	compact := strings.ReplaceAll(value.String(), "-", "")
	return compact[:tokenLength], nil
}
