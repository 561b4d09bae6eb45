package user

import (
	"time"
)

// Signup flow values as recorded at registration time.
const (
	SignupFree      = "FREE"
	SignupPaidTrial = "PAID_TRIAL"
)

// User is the tenant owner account. It carries the signals the access
// decision is derived from; billing state lives with the billing account.
type User struct {
	ID            string    `bson:"id" json:"id"`
	TenantID      string    `bson:"tenant_id" json:"tenant_id"`
	Email         string    `bson:"email" json:"email"`
	EmailVerified bool      `bson:"email_verified" json:"email_verified"`
	PasswordHash  []byte    `bson:"password_hash,omitempty" json:"-"`
	SignupFlow    string    `bson:"signup_flow,omitempty" json:"signup_flow,omitempty"`
	CreatedAt     time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at" json:"updated_at"`
}

func (u *User) UserID() string {
	return u.ID
}
