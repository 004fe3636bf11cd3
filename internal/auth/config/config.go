package config

import "time"

type Config struct {
	SecretKey string
	TokenExp  time.Duration
}
