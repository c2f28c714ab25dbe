package model

import "time"

type JobStatus string

const (
	JobStatusOpen       JobStatus = "open"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Job is the minimal view of a marketplace job the payment flow needs.
type Job struct {
	ID        string
	ClientID  string
	Title     string
	Status    JobStatus
	CreatedAt time.Time
}

type ProposalStatus string

const (
	ProposalStatusPending  ProposalStatus = "pending"
	ProposalStatusAccepted ProposalStatus = "accepted"
	ProposalStatusRejected ProposalStatus = "rejected"
)

// Proposal is a freelancer's bid on a job.
type Proposal struct {
	ID           string
	JobID        string
	FreelancerID string
	AmountCents  int64
	Status       ProposalStatus
	AcceptedAt   *time.Time
	CreatedAt    time.Time
}
