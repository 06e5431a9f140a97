package accountd

import (
	"crypto/subtle"

	"golang.org/x/crypto/argon2"
)

const saltSize = 16

func hashPassword(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, 32)
}

func checkPassword(password string, salt, hash []byte) bool {
	return subtle.ConstantTimeCompare(hashPassword(password, salt), hash) == 1
}
