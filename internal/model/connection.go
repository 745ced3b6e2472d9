package model

import "time"

// Provider names for connected accounts.
const (
	ProviderGmail = "gmail"
)

// Connection is a connected mail account that can be scanned for receipts.
type Connection struct {
	ConnectedAt        time.Time  `json:"connectedAt"`
	LastScan           *time.Time `json:"lastScan"`
	ID                 string     `json:"id"`
	Email              string     `json:"email"`
	Provider           string     `json:"provider"`
	Token              string     `json:"-"` // Serialized OAuth token, never rendered
	SubscriptionsFound int        `json:"subscriptionsFound"`
}
