package model

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"freelance-escrow/internal/domain"
)

type Role string

const (
	RoleClient     Role = "client"
	RoleFreelancer Role = "freelancer"
)

// User is the marketplace account. Gateway-derived state (connected account,
// billing) is embedded so one row is the single source of truth per user.
type User struct {
	ID                 string
	Email              string
	DisplayName        string
	Role               Role
	StripeCustomerID   string
	ConnectedAccount   *ConnectedAccount
	Billing            SubscriptionState
	TotalEarningsCents int64
	CompletedJobs      int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func NewUser(id, email, displayName string, role Role) (*User, error) {
	if id == "" {
		id = uuid.NewString()
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, domain.ErrInvalidArgument
	}
	if role != RoleClient && role != RoleFreelancer {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &User{
		ID:          id,
		Email:       email,
		DisplayName: displayName,
		Role:        role,
		Billing:     FreeSubscription(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (u *User) IsZero() bool { return u == nil || u.ID == "" }

// HasConnectedAccount reports whether the user can receive transfers.
func (u *User) HasConnectedAccount() bool {
	return u != nil && u.ConnectedAccount != nil && u.ConnectedAccount.AccountID != ""
}
