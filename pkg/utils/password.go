package utils

import "golang.org/x/crypto/bcrypt"

// Passwords are user-chosen and low-entropy, so they get the slow, salted
// treatment. High-entropy opaque secrets go through DigestSecret instead.
const bcryptCost = 12

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored bcrypt hash.
// A malformed hash yields false, never an error; corrupt rows must not
// turn into crashes on the login path.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
