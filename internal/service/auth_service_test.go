package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harmonia-school/schedule-api/internal/models"
	appErrors "github.com/harmonia-school/schedule-api/pkg/errors"
)

func mintToken(t *testing.T, secret string, claims models.JWTClaims, method jwt.SigningMethod) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func studioClaims(issuer, audience string) models.JWTClaims {
	return models.JWTClaims{
		UserID:   42,
		StudioID: 1,
		Role:     models.RoleTeacher,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}

func TestValidateToken(t *testing.T) {
	svc := NewAuthService(AuthConfig{Secret: "secret", Issuer: "harmonia-auth", Audience: "schedule-api"}, nil)
	token := mintToken(t, "secret", studioClaims("harmonia-auth", "schedule-api"), jwt.SigningMethodHS256)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, int64(1), claims.StudioID)
	assert.Equal(t, models.RoleTeacher, claims.Role)
}

func TestValidateTokenWrongSecret(t *testing.T) {
	svc := NewAuthService(AuthConfig{Secret: "secret"}, nil)
	token := mintToken(t, "other", studioClaims("", ""), jwt.SigningMethodHS256)

	_, err := svc.ValidateToken(token)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestValidateTokenExpired(t *testing.T) {
	svc := NewAuthService(AuthConfig{Secret: "secret"}, nil)
	claims := studioClaims("", "")
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	token := mintToken(t, "secret", claims, jwt.SigningMethodHS256)

	_, err := svc.ValidateToken(token)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestValidateTokenWrongIssuer(t *testing.T) {
	svc := NewAuthService(AuthConfig{Secret: "secret", Issuer: "harmonia-auth"}, nil)
	token := mintToken(t, "secret", studioClaims("someone-else", ""), jwt.SigningMethodHS256)

	_, err := svc.ValidateToken(token)
	require.Error(t, err)
}

func TestValidateTokenRejectsWrongAlgorithm(t *testing.T) {
	svc := NewAuthService(AuthConfig{Secret: "secret"}, nil)
	token := mintToken(t, "secret", studioClaims("", ""), jwt.SigningMethodHS512)

	_, err := svc.ValidateToken(token)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestRoleCapabilities(t *testing.T) {
	assert.True(t, models.RoleAdmin.HasCapability(models.CapManagePatterns))
	assert.True(t, models.RoleTeacher.HasCapability(models.CapRecordAttendance))
	assert.True(t, models.RoleStudent.HasCapability(models.CapViewSchedule))
	assert.False(t, models.RoleStudent.HasCapability(models.CapManageLessons))
	assert.False(t, models.UserRole("unknown").HasCapability(models.CapViewSchedule))
}
