package domain

import "time"

// ContractStatus represents the lifecycle status of a rental contract.
type ContractStatus string

const (
	ContractStatusDraft     ContractStatus = "DRAFT"
	ContractStatusSigned    ContractStatus = "SIGNED"
	ContractStatusSubmitted ContractStatus = "SUBMITTED"
	ContractStatusApproved  ContractStatus = "APPROVED"
	ContractStatusRejected  ContractStatus = "REJECTED"
	ContractStatusActive    ContractStatus = "ACTIVE"
	ContractStatusCompleted ContractStatus = "COMPLETED"
	ContractStatusCancelled ContractStatus = "CANCELLED"
)

var contractTransitions = map[ContractStatus][]ContractStatus{
	ContractStatusDraft:     {ContractStatusSigned, ContractStatusCancelled},
	ContractStatusSigned:    {ContractStatusSubmitted, ContractStatusCancelled},
	ContractStatusSubmitted: {ContractStatusApproved, ContractStatusRejected, ContractStatusCancelled},
	ContractStatusApproved:  {ContractStatusActive, ContractStatusCancelled},
	ContractStatusActive:    {ContractStatusCompleted, ContractStatusCancelled},
}

// CanTransitionTo reports whether from -> to is a legal edge.
func (s ContractStatus) CanTransitionTo(to ContractStatus) bool {
	for _, next := range contractTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the contract is immutable.
func (s ContractStatus) IsTerminal() bool {
	switch s {
	case ContractStatusRejected, ContractStatusCompleted, ContractStatusCancelled:
		return true
	}
	return false
}

// Party identifies a signatory of a contract.
type Party string

const (
	PartyCustomer Party = "CUSTOMER"
	PartyProvider Party = "PROVIDER"
)

// Contract is the regulatory rental agreement attached to a confirmed reservation.
type Contract struct {
	ID                 string
	ReservationID      string
	ContractNumber     string
	CustomerID         string
	AssetID            string
	ProviderID         string
	Status             ContractStatus
	ExternalRef        string
	ExternalStatus     string
	StartsAt           time.Time
	EndsAt             time.Time
	CustomerSignedAt   time.Time
	ProviderSignedAt   time.Time
	SubmittedAt        time.Time
	TermsAndConditions string
	SpecialConditions  string
	Version            int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// FullySigned reports whether both parties have signed.
func (c *Contract) FullySigned() bool {
	return !c.CustomerSignedAt.IsZero() && !c.ProviderSignedAt.IsZero()
}

// Clone returns a copy safe to mutate.
func (c *Contract) Clone() *Contract {
	cp := *c
	return &cp
}
