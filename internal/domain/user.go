package domain

import "time"

type User struct {
	Email        string
	PasswordHash []byte
	ActivatedAt  *time.Time
	CreatedAt    time.Time
}
