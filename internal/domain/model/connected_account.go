package model

type ConnectStatus string

const (
	ConnectStatusPending    ConnectStatus = "pending"
	ConnectStatusActive     ConnectStatus = "active"
	ConnectStatusRestricted ConnectStatus = "restricted"
)

// ConnectedAccount is a freelancer's payout destination at the gateway.
// The gateway owns its lifecycle; we only mirror flags.
type ConnectedAccount struct {
	AccountID        string
	Status           ConnectStatus
	ChargesEnabled   bool
	PayoutsEnabled   bool
	DetailsSubmitted bool
}

// DeriveConnectStatus maps gateway flags to the coarse status shown to users.
// Accounts that have not finished onboarding stay pending even though the
// gateway reports them disabled.
func DeriveConnectStatus(detailsSubmitted bool, disabledReason string) ConnectStatus {
	switch {
	case !detailsSubmitted:
		return ConnectStatusPending
	case disabledReason != "":
		return ConnectStatusRestricted
	default:
		return ConnectStatusActive
	}
}
