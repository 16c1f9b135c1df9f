package models

import "time"

type AdminLogin struct {
	Pin string `json:"pin" validate:"required,min=4,max=32"`
}

type AdminToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}
