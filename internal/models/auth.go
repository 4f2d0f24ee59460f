package models

import "github.com/golang-jwt/jwt/v5"

// UserRole is the closed set of roles minted by the platform auth service.
type UserRole string

const (
	RoleAdmin   UserRole = "admin"
	RoleTeacher UserRole = "teacher"
	RoleStudent UserRole = "student"
)

// Capability is a named permission checked by route middleware. Roles map
// to capabilities through an explicit lookup instead of ad-hoc string
// comparisons on the token payload.
type Capability string

const (
	CapManagePatterns   Capability = "patterns:manage"
	CapManageLessons    Capability = "lessons:manage"
	CapRecordAttendance Capability = "attendance:record"
	CapViewSchedule     Capability = "schedule:view"
)

var roleCapabilities = map[UserRole]map[Capability]struct{}{
	RoleAdmin: {
		CapManagePatterns:   {},
		CapManageLessons:    {},
		CapRecordAttendance: {},
		CapViewSchedule:     {},
	},
	RoleTeacher: {
		CapManagePatterns:   {},
		CapManageLessons:    {},
		CapRecordAttendance: {},
		CapViewSchedule:     {},
	},
	RoleStudent: {
		CapViewSchedule: {},
	},
}

// HasCapability reports whether the role grants the capability.
func (r UserRole) HasCapability(cap Capability) bool {
	caps, ok := roleCapabilities[r]
	if !ok {
		return false
	}
	_, ok = caps[cap]
	return ok
}

// JWTClaims is the access-token payload issued by the auth service.
type JWTClaims struct {
	UserID   int64    `json:"uid"`
	StudioID int64    `json:"studio_id"`
	Role     UserRole `json:"role"`
	jwt.RegisteredClaims
}
