package models

import (
	"fmt"
	"time"
)

// ResourceStatus health of a resource attached to a wallet
type ResourceStatus string

const (
	ResourceStatusOK          ResourceStatus = "OK"
	ResourceStatusBad         ResourceStatus = "BAD"
	ResourceStatusNeedsVerify ResourceStatus = "NEEDS_VERIFY" // social token only
)

// Degraded reports whether the status needs a replacement
func (s ResourceStatus) Degraded() bool {
	return s == ResourceStatusBad || s == ResourceStatusNeedsVerify
}

// ResourceKind shared resource attached to a wallet
type ResourceKind string

const (
	ResourceProxy  ResourceKind = "proxy"
	ResourceSocial ResourceKind = "social"
)

// StatusColumn wallet column holding the kind's status
func (k ResourceKind) StatusColumn() string {
	if k == ResourceSocial {
		return "social_status"
	}
	return "proxy_status"
}

// ValueColumn wallet column holding the kind's value
func (k ResourceKind) ValueColumn() string {
	if k == ResourceSocial {
		return "social_token"
	}
	return "proxy"
}

// Wallet one managed account
type Wallet struct {
	ID         uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	PrivateKey string `json:"-" gorm:"not null;uniqueIndex"` // plaintext or vault ciphertext
	Address    string `json:"address" gorm:"not null;uniqueIndex;size:42"`

	Proxy        *string        `json:"proxy"`
	ProxyStatus  ResourceStatus `json:"proxy_status" gorm:"size:16;not null;default:OK;index"`
	SocialToken  *string        `json:"-"`
	SocialStatus ResourceStatus `json:"social_status" gorm:"size:16;not null;default:OK;index"`

	CompletedCount int `json:"completed_count" gorm:"not null;default:0"`

	NextActionTime          *time.Time `json:"next_action_time"`
	NextSecondaryActionTime *time.Time `json:"next_secondary_action_time"`
	LastResourceClaimTime   *time.Time `json:"last_resource_claim_time"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName wallets table
func (Wallet) TableName() string {
	return "wallets"
}

// String identity used in log lines; never includes the key
func (w *Wallet) String() string {
	return fmt.Sprintf("[%d][%s]", w.ID, w.Address)
}

// Label identity for logs, address only when showAddress is set
func (w *Wallet) Label(showAddress bool) string {
	if showAddress {
		return w.String()
	}
	return fmt.Sprintf("[%d]", w.ID)
}

// ProxyURL proxy string or empty
func (w *Wallet) ProxyURL() string {
	if w.Proxy == nil {
		return ""
	}
	return *w.Proxy
}

// Social social token or empty
func (w *Wallet) Social() string {
	if w.SocialToken == nil {
		return ""
	}
	return *w.SocialToken
}

// Status current status of the given resource kind
func (w *Wallet) Status(kind ResourceKind) ResourceStatus {
	if kind == ResourceSocial {
		return w.SocialStatus
	}
	return w.ProxyStatus
}

// ScheduleField names one of the wallet's scheduling timestamps
type ScheduleField string

const (
	NextAction          ScheduleField = "next_action_time"
	NextSecondaryAction ScheduleField = "next_secondary_action_time"
	LastResourceClaim   ScheduleField = "last_resource_claim_time"
)

// Schedule reads the timestamp behind a schedule field
func (w *Wallet) Schedule(field ScheduleField) *time.Time {
	switch field {
	case NextSecondaryAction:
		return w.NextSecondaryActionTime
	case LastResourceClaim:
		return w.LastResourceClaimTime
	default:
		return w.NextActionTime
	}
}

// SetSchedule updates the in-memory copy of a schedule field
func (w *Wallet) SetSchedule(field ScheduleField, t time.Time) {
	switch field {
	case NextSecondaryAction:
		w.NextSecondaryActionTime = &t
	case LastResourceClaim:
		w.LastResourceClaimTime = &t
	default:
		w.NextActionTime = &t
	}
}

// EligibleAt reports whether an action gated on field may run at now
func (w *Wallet) EligibleAt(field ScheduleField, now time.Time) bool {
	t := w.Schedule(field)
	return t == nil || !now.Before(*t)
}

// AllowedSources statuses from which a transition to "to" is valid.
// OK may only degrade; a degraded status may only recover to OK.
func AllowedSources(kind ResourceKind, to ResourceStatus) []ResourceStatus {
	switch to {
	case ResourceStatusOK:
		if kind == ResourceSocial {
			return []ResourceStatus{ResourceStatusBad, ResourceStatusNeedsVerify}
		}
		return []ResourceStatus{ResourceStatusBad}
	case ResourceStatusBad:
		return []ResourceStatus{ResourceStatusOK}
	case ResourceStatusNeedsVerify:
		if kind == ResourceSocial {
			return []ResourceStatus{ResourceStatusOK}
		}
	}
	return nil
}
