package polystore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/miketerry-org/polystore"
)

func TestTableName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model string
		want  string
	}{
		{"User", "users"},
		{"ServerConfig", "server_configs"},
		{"Category", "categories"},
		{"Address", "addresses"},
		{"Box", "boxes"},
		{"Batch", "batches"},
		{"Dish", "dishes"},
		{"Day", "days"},
		{"HTTPServer", "http_servers"},
		{"APIKey", "api_keys"},
		{"userProfile", "user_profiles"},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, polystore.TableName(tt.model))
		})
	}
}

func TestSnakeCase(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"User", "user"},
		{"ServerConfig", "server_config"},
		{"HTTPServer", "http_server"},
		{"parseURL", "parse_url"},
		{"already_snake", "already_snake"},
		{"with space", "with_space"},
		{"with-dash", "with_dash"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, polystore.SnakeCase(tt.in), tt.in)
	}
}

func TestPluralize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"user", "users"},
		{"category", "categories"},
		{"day", "days"},
		{"key", "keys"},
		{"address", "addresses"},
		{"box", "boxes"},
		{"batch", "batches"},
		{"dish", "dishes"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, polystore.Pluralize(tt.in), tt.in)
	}
}
