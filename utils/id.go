package utils

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
)

type Base64IdGenerator struct{}

var (
	b64Id     *Base64IdGenerator
	b64IdOnce sync.Once
)

func Base64Id() *Base64IdGenerator {
	b64IdOnce.Do(func() {
		b64Id = &Base64IdGenerator{}
	})
	return b64Id
}

// GenerateId returns a 20 character URL-safe unique id. The ids double as
// session identifiers on the wire, so they must be unguessable.
func (*Base64IdGenerator) GenerateId() (string, error) {
	r := make([]byte, 15)
	if _, err := rand.Read(r); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(r), nil
}
