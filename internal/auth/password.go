package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes a plain text password using bcrypt
// Rejects passwords longer than 72 bytes (bcrypt's maximum)
func HashPassword(password string) (string, error) {
	if len(password) > 72 {
		return "", fmt.Errorf("password exceeds maximum length of 72 bytes")
	}
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashedBytes), nil
}

// CheckPassword compares a plain text password with a hashed password
func CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// User is a configured account that may authenticate with a password
type User struct {
	Name         string   `mapstructure:"name"`
	PasswordHash string   `mapstructure:"password_hash"`
	Roles        []string `mapstructure:"roles"`
}

// Directory authenticates users against bcrypt password hashes
type Directory struct {
	users map[string]User
}

// NewDirectory creates a directory over the given users
func NewDirectory(users []User) *Directory {
	d := &Directory{users: make(map[string]User, len(users))}
	for _, u := range users {
		d.users[u.Name] = u
	}
	return d
}

// Authenticate returns the principal for valid credentials
func (d *Directory) Authenticate(name, password string) (*Principal, bool) {
	u, ok := d.users[name]
	if !ok || !CheckPassword(password, u.PasswordHash) {
		return nil, false
	}
	return &Principal{Name: u.Name, Roles: append([]string(nil), u.Roles...)}, true
}
