package model

import "golang.org/x/crypto/bcrypt"

// UserLimits caps a user's aggregate footprint across all owned servers.
// Zero means unlimited.
type UserLimits struct {
	Servers     int   `json:"servers"`
	Memory      int64 `json:"memory"`
	Disk        int64 `json:"disk"`
	CPU         int   `json:"cpu"`
	Allocations int   `json:"allocations"`
}

type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"passwordHash,omitempty"`
	Admin        bool       `json:"admin"`
	Limits       UserLimits `json:"limits"`
}

func (u User) RecordID() string { return u.ID }

func (u *User) CheckPassword(password string) bool {
	if u.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

func (u *User) SetPassword(password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	return nil
}
