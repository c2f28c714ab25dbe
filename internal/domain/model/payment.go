package model

import "time"

type PaymentStatus string

const (
	PaymentStatusPending      PaymentStatus = "pending"        // hold requested at the gateway; not yet confirmed
	PaymentStatusHeldInEscrow PaymentStatus = "held_in_escrow" // gateway confirmed the charge; funds sit in platform balance
	PaymentStatusReleased     PaymentStatus = "released"       // transfer to the freelancer's connected account created
	PaymentStatusRefunded     PaymentStatus = "refunded"       // charge refunded to the client
	PaymentStatusFailed       PaymentStatus = "failed"         // hold never succeeded
)

// PaymentTypeJob is the metadata "type" stamped on job payment holds so the
// reconciler can tell them apart from other gateway objects.
const PaymentTypeJob = "job_payment"

// transitions lists the only forward moves a Payment may make.
var transitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:      {PaymentStatusHeldInEscrow, PaymentStatusFailed},
	PaymentStatusHeldInEscrow: {PaymentStatusReleased, PaymentStatusRefunded},
}

// CanTransition reports whether from -> to is a legal Payment move.
func CanTransition(from, to PaymentStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s PaymentStatus) IsTerminal() bool { return len(transitions[s]) == 0 }

// IsActive reports whether the status counts toward the one-active-payment-per-job rule.
func (s PaymentStatus) IsActive() bool {
	return s == PaymentStatusPending || s == PaymentStatusHeldInEscrow
}

// Payment is one job's escrowed funds. All amounts are integer minor units.
type Payment struct {
	ID                     string
	JobID                  string
	ProposalID             string
	ClientID               string
	FreelancerID           string
	AmountCents            int64
	Currency               string
	Status                 PaymentStatus
	GatewayPaymentIntentID string
	PlatformFeeCents       int64
	FreelancerAmountCents  int64
	TransferID             *string
	// HoldFailure is the last decline reported for a pending hold. The
	// client may retry the same hold, so a decline is not terminal.
	HoldFailure string
	// RefundRequestedAt is set once the client asks for the escrow back;
	// from then on the payment can only end refunded.
	RefundRequestedAt *time.Time
	PaidAt            *time.Time
	ReleasedAt        *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Releasable reports whether funds may be transferred to the freelancer.
func (p *Payment) Releasable() bool {
	return p.Status == PaymentStatusHeldInEscrow && p.RefundRequestedAt == nil
}

// SplitBalanced reports whether the recorded fee split adds up to the amount.
func (p *Payment) SplitBalanced() bool {
	return p.PlatformFeeCents+p.FreelancerAmountCents == p.AmountCents
}
