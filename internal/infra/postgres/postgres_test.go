package postgres

import (
	"testing"
	"time"

	"github.com/sifan077/PowerCMS/config"
	"github.com/stretchr/testify/assert"
)

func TestConnString(t *testing.T) {
	got := ConnString(config.PostgresConfig{
		Host:     "db",
		User:     "cms",
		Password: "p@ss word",
		Database: "content",
	})
	assert.Equal(t, "postgres://cms:p%40ss%20word@db:5432/content?application_name=powercms&sslmode=disable", got)

	got = ConnString(config.PostgresConfig{Database: "content", SSLMode: "require", Port: 6543})
	assert.Equal(t, "postgres://localhost:6543/content?application_name=powercms&sslmode=require", got)
}

func TestSetDuration(t *testing.T) {
	d := time.Minute
	setDuration(&d, "")
	assert.Equal(t, time.Minute, d)
	setDuration(&d, "soon")
	assert.Equal(t, time.Minute, d)
	setDuration(&d, "30s")
	assert.Equal(t, 30*time.Second, d)
}
