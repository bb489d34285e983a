package connection

import (
	"fmt"
	"net/url"

	"github.com/surrealdb/surrealodm/internal/codec"
	"github.com/surrealdb/surrealodm/pkg/logger"
	"github.com/surrealdb/surrealodm/pkg/models"
)

// Config carries everything a connection implementation is built from.
type Config struct {
	URL         url.URL
	BaseURL     string
	Marshaler   codec.Marshaler
	Unmarshaler codec.Unmarshaler
	Logger      logger.Logger
}

// NewConfig returns a Config for the endpoint u, such as
// "ws://localhost:8000" or "http://localhost:8000", using the shared CBOR
// codec.
func NewConfig(u *url.URL) *Config {
	return &Config{
		URL:         *u,
		BaseURL:     fmt.Sprintf("%s://%s", u.Scheme, u.Host),
		Marshaler:   models.CborMarshaler{},
		Unmarshaler: models.CborUnmarshaler{},
		Logger:      logger.Nop(),
	}
}
