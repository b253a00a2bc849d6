package utils

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// NewSessionToken generates a 64-character hex token for profile sessions.
func NewSessionToken() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback keeps the 64-char hex shape ValidateSessionToken expects
		now := fmt.Sprintf("%d", time.Now().UnixNano())
		return MD5Hash(now) + MD5Hash(now+"salt")
	}
	return hex.EncodeToString(bytes)
}

// MD5Hash generates MD5 hash of input string
func MD5Hash(input string) string {
	hash := md5.Sum([]byte(input))
	return hex.EncodeToString(hash[:])
}

// GenerateRandomID generates a random ID
func GenerateRandomID(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)[:length]
}

// ValidateSessionToken validates if a session token format is correct
func ValidateSessionToken(token string) bool {
	if len(token) != 64 {
		return false
	}

	_, err := hex.DecodeString(token)
	return err == nil
}
