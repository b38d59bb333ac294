package achievement

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateIdentity(t *testing.T) {
	tests := []struct {
		name    string
		owner   string
		art     string
		field   string
		wantErr bool
	}{
		{name: "valid", owner: "u1", art: "cert"},
		{name: "nested artifact name", owner: "u1", art: "2024/cert.pdf"},
		{name: "empty owner", owner: "", art: "cert", field: "owner_id", wantErr: true},
		{name: "blank owner", owner: "  ", art: "cert", field: "owner_id", wantErr: true},
		{name: "slash in owner", owner: "a/b", art: "cert", field: "owner_id", wantErr: true},
		{name: "empty name", owner: "u1", art: "", field: "name", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentity(tt.owner, tt.art)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestMeta_Validate(t *testing.T) {
	m := Meta{Name: "cert", OwnerID: "u1", FileSize: -1}
	err := m.Validate()
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), "file_size")

	m.FileSize = 0
	assert.NoError(t, m.Validate())
}

func TestIsValidation_Wrapped(t *testing.T) {
	err := fmt.Errorf("register: %w", &ValidationError{Field: "name", Reason: "is required"})
	assert.True(t, IsValidation(err))
	assert.False(t, IsValidation(fmt.Errorf("boom")))
}
