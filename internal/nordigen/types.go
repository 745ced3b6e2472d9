package nordigen

import (
	"fmt"
	"net/http"
	"time"
)

type tokenRequest struct {
	SecretID  string `json:"secret_id"`
	SecretKey string `json:"secret_key"`
}

type tokenResponse struct {
	Access        string `json:"access"`
	Refresh       string `json:"refresh"`
	AccessExpires int    `json:"access_expires"`
}

// Institution is a bank reachable through the aggregator.
type Institution struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	BIC       string   `json:"bic"`
	Logo      string   `json:"logo"`
	Countries []string `json:"countries"`
}

// Requisition links an end user to the accounts they authorized.
type Requisition struct {
	ID            string   `json:"id"`
	Status        string   `json:"status"`
	Link          string   `json:"link"`
	InstitutionID string   `json:"institution_id"`
	Reference     string   `json:"reference"`
	Accounts      []string `json:"accounts"`
}

type requisitionRequest struct {
	Redirect      string `json:"redirect"`
	InstitutionID string `json:"institution_id"`
	Reference     string `json:"reference"`
	UserLanguage  string `json:"user_language,omitempty"`
}

// Connection is returned when a bank connection is started.
type Connection struct {
	Link          string        `json:"link"`
	RequisitionID string        `json:"requisitionId"`
	Institutions  []Institution `json:"institutions"`
}

type transactionsResponse struct {
	Transactions struct {
		Booked  []bookedTransaction `json:"booked"`
		Pending []bookedTransaction `json:"pending"`
	} `json:"transactions"`
}

type bookedTransaction struct {
	TransactionID     string `json:"transactionId"`
	InternalID        string `json:"internalTransactionId"`
	BookingDate       string `json:"bookingDate"`
	ValueDate         string `json:"valueDate"`
	TransactionAmount struct {
		Amount   string `json:"amount"`
		Currency string `json:"currency"`
	} `json:"transactionAmount"`
	CreditorName                      string   `json:"creditorName"`
	RemittanceInformationUnstructured string   `json:"remittanceInformationUnstructured"`
	RemittanceInformationArray        []string `json:"remittanceInformationUnstructuredArray"`
}

// StatusError is a non-2xx API response.
type StatusError struct {
	Body       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("nordigen API error: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// accessToken caches the bearer token until shortly before it expires.
type accessToken struct {
	expires time.Time
	value   string
}

func (t accessToken) valid(now time.Time) bool {
	return t.value != "" && now.Before(t.expires)
}
