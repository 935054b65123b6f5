package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateConfig(t *testing.T) {
	fields := []ConfigField{
		{Key: "secretKey", Required: true, Type: "secret", MinLength: 8},
		{Key: "baseUrl", Type: "url"},
		{Key: "sandbox", Type: "boolean"},
		{Key: "clientId", Pattern: `^[A-Za-z0-9_-]+$`},
	}

	tests := []struct {
		name    string
		config  map[string]string
		wantErr string
	}{
		{name: "minimal", config: map[string]string{"secretKey": "s3cr3t-key"}},
		{name: "all fields", config: map[string]string{
			"secretKey": "s3cr3t-key", "baseUrl": "https://api.example.com", "sandbox": "true", "clientId": "abc_123",
		}},
		{name: "missing required", config: map[string]string{}, wantErr: "required field 'secretKey' is missing"},
		{name: "blank required", config: map[string]string{"secretKey": "  "}, wantErr: "cannot be empty"},
		{name: "too short", config: map[string]string{"secretKey": "short"}, wantErr: "at least 8 characters"},
		{name: "bad url", config: map[string]string{"secretKey": "s3cr3t-key", "baseUrl": "not a url"}, wantErr: "valid URL"},
		{name: "bad boolean", config: map[string]string{"secretKey": "s3cr3t-key", "sandbox": "yes"}, wantErr: "'true' or 'false'"},
		{name: "pattern mismatch", config: map[string]string{"secretKey": "s3cr3t-key", "clientId": "a b"}, wantErr: "does not match"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfig("stub", tt.config, fields)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
			assert.Contains(t, err.Error(), "stub:")
		})
	}
}
