package accounts

import (
	"errors"
	"time"
)

// Role gates the admin surfaces.
type Role string

const (
	RoleSuperAdmin Role = "super-admins"
	RoleAdmin      Role = "admins"
)

func (r Role) Valid() bool { return r == RoleSuperAdmin || r == RoleAdmin }

// Account is the profile record of an identity-provider user, keyed by uid.
type Account struct {
	UID         string    `dynamodbav:"uid" json:"uid"` // PK
	Email       string    `dynamodbav:"email" json:"email"`
	DisplayName string    `dynamodbav:"display_name" json:"displayName"`
	PhoneNumber string    `dynamodbav:"phone_number,omitempty" json:"phoneNumber"`
	PhotoURL    string    `dynamodbav:"photo_url,omitempty" json:"photoURL"`
	Role        Role      `dynamodbav:"role" json:"role"`
	CreatedAt   time.Time `dynamodbav:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `dynamodbav:"updated_at" json:"updatedAt"`
}

// Profile holds the self-editable account fields.
type Profile struct {
	DisplayName string
	PhoneNumber string
	PhotoURL    string
}

var ErrNotFound = errors.New("account not found")

// GetDashboardURL is where a user of role lands after signing in.
func GetDashboardURL(role Role) string {
	switch role {
	case RoleSuperAdmin:
		return "/super-admins/dashboard"
	case RoleAdmin:
		return "/admins/dashboard"
	default:
		return "/"
	}
}

// WelcomeMessage greets a user after sign-in.
func WelcomeMessage(role Role, displayName string) string {
	if role == RoleAdmin {
		return "Selamat datang, Admin " + displayName + "!"
	}
	return "Selamat datang, " + displayName + "!"
}
