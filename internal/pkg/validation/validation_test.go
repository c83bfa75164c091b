package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Name     string `json:"first_name" validate:"required"`
	Role     string `json:"role,omitempty" validate:"omitempty,oneof=admin doctor patient"`
	Duration int    `json:"duration_minutes" validate:"omitempty,min=5,max=480"`
}

func TestStruct_Valid(t *testing.T) {
	v := New()

	err := v.Struct(sample{Email: "a@example.com", Password: "secret", Name: "Ann"})

	assert.NoError(t, err)
}

func TestStruct_ReportsJSONFieldNames(t *testing.T) {
	v := New()

	err := v.Struct(sample{Email: "not-an-email", Password: "short", Name: ""})

	var verr *Error
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Has("email"))
	assert.True(t, verr.Has("password"))
	assert.True(t, verr.Has("first_name"))
	assert.False(t, verr.Has("role"))
	assert.Len(t, verr.Fields, 3)
}

func TestStruct_Messages(t *testing.T) {
	v := New()

	err := v.Struct(sample{Email: "bad", Password: "abc", Name: "x", Role: "nurse", Duration: 500})

	var verr *Error
	require.ErrorAs(t, err, &verr)

	msgs := make(map[string]string)
	for _, f := range verr.Fields {
		msgs[f.Field] = f.Message
	}
	assert.Equal(t, "must be a valid email address", msgs["email"])
	assert.Equal(t, "must be at least 6 characters", msgs["password"])
	assert.Equal(t, "must be one of: admin doctor patient", msgs["role"])
	assert.Equal(t, "must be at most 480", msgs["duration_minutes"])
	assert.Contains(t, verr.Error(), "validation error")
}

func TestError_IsErrInvalid(t *testing.T) {
	v := New()

	err := v.Struct(sample{})

	assert.ErrorIs(t, err, ErrInvalid)
}

func TestStruct_MaxBytes(t *testing.T) {
	type secret struct {
		Password string `json:"password" validate:"required,maxbytes=72"`
	}
	v := New()

	assert.NoError(t, v.Struct(secret{Password: strings.Repeat("a", 72)}))
	assert.NoError(t, v.Struct(secret{Password: strings.Repeat("é", 36)}))

	err := v.Struct(secret{Password: strings.Repeat("é", 40)})

	var verr *Error
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Fields, 1)
	assert.Equal(t, FieldError{Field: "password", Message: "must be at most 72 bytes"}, verr.Fields[0])
}
