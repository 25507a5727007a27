package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"SignalLab/internal/domain/models"
	"SignalLab/internal/repository"
)

func newTestAuth() *AuthService {
	s := NewAuthService(repository.NewMemoryUserRepository(), "test-secret", time.Hour)
	s.cost = bcrypt.MinCost
	return s
}

func TestSignupAndLogin(t *testing.T) {
	s := newTestAuth()
	ctx := context.Background()

	res, err := s.Signup(ctx, models.SignupRequest{Email: "Ada@Example.com ", Password: "correct-horse", Name: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", res.User.Email)
	assert.NotEqual(t, "correct-horse", res.User.PasswordHash)

	uid, err := s.ParseToken(res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, uid)

	login, err := s.Login(ctx, models.LoginRequest{Email: "ada@example.com", Password: "correct-horse"})
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, login.User.ID)
}

func TestSignupDuplicateEmail(t *testing.T) {
	s := newTestAuth()
	ctx := context.Background()
	_, err := s.Signup(ctx, models.SignupRequest{Email: "a@b.io", Password: "password1", Name: "A"})
	require.NoError(t, err)
	_, err = s.Signup(ctx, models.SignupRequest{Email: "A@B.io", Password: "password2", Name: "B"})
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	s := newTestAuth()
	ctx := context.Background()
	_, err := s.Signup(ctx, models.SignupRequest{Email: "a@b.io", Password: "password1", Name: "A"})
	require.NoError(t, err)

	_, err = s.Login(ctx, models.LoginRequest{Email: "a@b.io", Password: "wrong-password"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = s.Login(ctx, models.LoginRequest{Email: "nobody@b.io", Password: "password1"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestParseTokenRejects(t *testing.T) {
	s := newTestAuth()
	res, err := s.Signup(context.Background(), models.SignupRequest{Email: "a@b.io", Password: "password1", Name: "A"})
	require.NoError(t, err)

	t.Run("expired", func(t *testing.T) {
		s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		defer func() { s.now = time.Now }()
		_, err := s.ParseToken(res.Token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("other secret", func(t *testing.T) {
		other := NewAuthService(repository.NewMemoryUserRepository(), "another-secret", time.Hour)
		_, err := other.ParseToken(res.Token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("unsigned", func(t *testing.T) {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "u1"}).
			SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = s.ParseToken(tok)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := s.ParseToken("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
