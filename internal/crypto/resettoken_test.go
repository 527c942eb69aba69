package crypto

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Code-co-tech/cyber-doc-server/internal/model"
)

func testUser() model.User {
	return model.User{
		ID:           "2b6c8a36-47fb-4f0e-9a3e-0a4d1a31c001",
		Email:        "a@x.com",
		PasswordHash: "$2a$10$fakehashfakehashfakehash",
		UpdatedAt:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestResetTokenRoundTrip(t *testing.T) {
	source := NewResetTokenSource("secret", time.Hour)
	user := testUser()

	token := source.Generate(user)
	assert.True(t, source.Verify(user, token))
}

func TestResetTokenTampered(t *testing.T) {
	source := NewResetTokenSource("secret", time.Hour)
	user := testUser()

	token := source.Generate(user)
	tampered := token[:len(token)-1] + "A"
	if tampered == token {
		tampered = token[:len(token)-1] + "B"
	}

	assert.False(t, source.Verify(user, tampered))
	assert.False(t, source.Verify(user, "garbage"))
	assert.False(t, source.Verify(user, ""))
}

func TestResetTokenBoundToUserState(t *testing.T) {
	source := NewResetTokenSource("secret", time.Hour)
	user := testUser()
	token := source.Generate(user)

	// A completed reset rewrites the hash and updated_at; both must kill
	// the outstanding token.
	changed := user
	changed.PasswordHash = "$2a$10$differenthashdifferenthash"
	assert.False(t, source.Verify(changed, token))

	touched := user
	touched.UpdatedAt = touched.UpdatedAt.Add(time.Second)
	assert.False(t, source.Verify(touched, token))

	other := user
	other.ID = "d3a1f7ac-9f20-48a1-8c5c-2f40be97c002"
	assert.False(t, source.Verify(other, token))
}

func TestResetTokenExpiry(t *testing.T) {
	source := NewResetTokenSource("secret", time.Hour)
	user := testUser()

	issued := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	source.now = func() time.Time { return issued }
	token := source.Generate(user)

	source.now = func() time.Time { return issued.Add(59 * time.Minute) }
	assert.True(t, source.Verify(user, token))

	source.now = func() time.Time { return issued.Add(61 * time.Minute) }
	assert.False(t, source.Verify(user, token))
}

func TestResetTokenSecretMismatch(t *testing.T) {
	user := testUser()
	token := NewResetTokenSource("secret-a", time.Hour).Generate(user)
	assert.False(t, NewResetTokenSource("secret-b", time.Hour).Verify(user, token))
}

func TestUIDCodec(t *testing.T) {
	id := "2b6c8a36-47fb-4f0e-9a3e-0a4d1a31c001"
	encoded := EncodeUID(id)
	require.NotEqual(t, id, encoded)
	assert.False(t, strings.ContainsAny(encoded, "+/="))

	decoded, err := DecodeUID(encoded)
	require.NoError(t, err)
	assert.Equal(t, id, decoded)

	_, err = DecodeUID("%%%not-base64%%%")
	assert.Error(t, err)
}
