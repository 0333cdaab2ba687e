// password.go

// Argon2id password hashing and input validation.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	netmail "net/mail"
	"regexp"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for new hashes. Stored hashes carry their own, so raising
// these never invalidates existing passwords.
const (
	argonSaltLen = 16
	argonTime    = uint32(3)
	argonMemory  = uint32(64 * 1024)
	argonThreads = uint8(2)
	argonKeyLen  = uint32(32)
)

// HashPassword returns PHC-formatted Argon2id hash of plaintext password.
// Format: $argon2id$v=19$m=65536,t=3,p=2$<base64 salt>$<base64 hash>
func HashPassword(password string) (string, error) {
	// Fresh salt per hash; equal passwords never share an encoding.
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyPassword checks plaintext password against stored Argon2id hash.
// Extracts params from stored hash so old passwords verify after param changes.
// A mismatch is (false, nil); an error means encodedHash itself is unusable.
func VerifyPassword(password, encodedHash string) (bool, error) {
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, hash
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		return false, fmt.Errorf("invalid hash format")
	}
	if parts[1] != "argon2id" {
		return false, fmt.Errorf("unsupported algorithm")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, fmt.Errorf("parsing hash version: %w", err)
	}
	if version != argon2.Version {
		return false, fmt.Errorf("unsupported argon2 version: %d", version)
	}

	// Cost parameters come from the hash, not the constants above.
	var memory, time uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false, fmt.Errorf("parsing hash params: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("decoding salt: %w", err)
	}
	expectedHash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("decoding hash: %w", err)
	}

	// Key length follows the stored hash too.
	hash := argon2.IDKey([]byte(password), salt, time, memory, threads, uint32(len(expectedHash)))
	// Constant time, so the comparison leaks nothing about how many bytes matched.
	return subtle.ConstantTimeCompare(hash, expectedHash) == 1, nil
}

// dummyPasswordHash is verified against when a login email has no account,
// so both paths cost one Argon2id derivation.
var dummyPasswordHash = sync.OnceValue(func() string {
	h, err := HashPassword("kiosk-timing-equalizer")
	if err != nil {
		panic(err)
	}
	return h
})

// ValidateEmail checks format and length constraints; returns error message or empty string.
// RFC 5321: min ~5 chars (a@b.c), max 254.
func ValidateEmail(email string) string {
	if email == "" {
		return "No email provided"
	}
	if len(email) < 5 {
		return "Email too short!"
	}
	if len(email) > 254 {
		return "Email too long!"
	}
	addr, err := netmail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "Invalid email format"
	}
	return ""
}

// ValidateName checks a display name; returns error message or empty string.
func ValidateName(name string) string {
	if strings.TrimSpace(name) == "" {
		return "Name is required"
	}
	if utf8.RuneCountInString(name) > 100 {
		return "Name too long!"
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return "Name contains invalid characters"
		}
	}
	return ""
}

var phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 ()\-]{5,18}[0-9]$`)

// ValidatePhone checks a seller contact number; returns error message or empty string.
func ValidatePhone(phone string) string {
	if phone == "" {
		return "Phone number is required"
	}
	if !phonePattern.MatchString(phone) {
		return "Invalid phone number"
	}
	return ""
}

// ValidateCountry checks a seller country; returns error message or empty string.
func ValidateCountry(country string) string {
	if strings.TrimSpace(country) == "" {
		return "Country is required"
	}
	if utf8.RuneCountInString(country) > 64 {
		return "Country too long!"
	}
	return ""
}

// PasswordPolicy defines password complexity rules applied at signup and reset.
//
//	MinLength is the minimum rune count (user-perceived chars); 0 skips minimum enforcement.
//	MaxLength is the maximum rune count (user-perceived chars); 0 skips maximum enforcement.
//	RequireUppercase, RequireDigit, and RequireSpecial each gate a character-class check.
//
// The zero value is fully permissive.
type PasswordPolicy struct {
	MinLength        int
	MaxLength        int
	RequireUppercase bool
	RequireDigit     bool
	RequireSpecial   bool
}

// DefaultPasswordPolicy is applied when AuthHandler.Passwords is the zero value.
var DefaultPasswordPolicy = PasswordPolicy{MinLength: 8, MaxLength: 128, RequireDigit: true}

// specialChars defines which characters satisfy the RequireSpecial rule.
const specialChars = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// Validate checks password against every enabled rule and returns a slice of human-readable
// failure messages; an empty slice means the password is valid.
func (p PasswordPolicy) Validate(password string) []string {
	var failures []string

	if password == "" {
		return []string{"No password provided"}
	}

	n := utf8.RuneCountInString(password)
	if p.MinLength > 0 && n < p.MinLength {
		failures = append(failures, fmt.Sprintf("Password must be at least %d characters", p.MinLength))
	}
	if p.MaxLength > 0 && n > p.MaxLength {
		failures = append(failures, fmt.Sprintf("Password must be at most %d characters", p.MaxLength))
	}

	var seenUpper, seenDigit, seenSpecial bool
	for _, r := range password {
		if unicode.IsControl(r) {
			return []string{"Password contains invalid characters"}
		}
		switch {
		case unicode.IsUpper(r):
			seenUpper = true
		case unicode.IsDigit(r):
			seenDigit = true
		case strings.ContainsRune(specialChars, r):
			seenSpecial = true
		}
	}

	if p.RequireUppercase && !seenUpper {
		failures = append(failures, "Password must contain at least one uppercase letter")
	}
	if p.RequireDigit && !seenDigit {
		failures = append(failures, "Password must contain at least one digit")
	}
	if p.RequireSpecial && !seenSpecial {
		failures = append(failures, "Password must contain at least one special character")
	}

	return failures
}
