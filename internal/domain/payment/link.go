package payment

import (
	"github.com/google/uuid"
)

// Metadata keys written on PSP objects. They are only referenced from
// Link (de)serialization.
const (
	metadataPaymentID      = "commerce_payment_id"
	metadataCartID         = "commerce_cart_id"
	metadataCustomerID     = "commerce_customer_id"
	metadataProjectKey     = "commerce_project_key"
	metadataSubscriptionID = "psp_subscription_id"
)

// Link is the back-reference from a PSP object to the platform Payment.
type Link struct {
	PaymentID      uuid.UUID
	CartID         uuid.UUID
	CustomerID     string
	ProjectKey     string
	SubscriptionID string
}

// Metadata serializes the link into the PSP metadata bag. Empty fields are omitted.
func (l Link) Metadata() map[string]string {
	md := make(map[string]string, 5)
	if l.PaymentID != uuid.Nil {
		md[metadataPaymentID] = l.PaymentID.String()
	}
	if l.CartID != uuid.Nil {
		md[metadataCartID] = l.CartID.String()
	}
	if l.CustomerID != "" {
		md[metadataCustomerID] = l.CustomerID
	}
	if l.ProjectKey != "" {
		md[metadataProjectKey] = l.ProjectKey
	}
	if l.SubscriptionID != "" {
		md[metadataSubscriptionID] = l.SubscriptionID
	}
	return md
}

// HasPayment reports whether the link resolves to a platform Payment.
func (l Link) HasPayment() bool {
	return l.PaymentID != uuid.Nil
}

// LinkFromMetadata parses a PSP metadata bag. Unparseable ids are left as uuid.Nil.
func LinkFromMetadata(md map[string]string) Link {
	if md == nil {
		return Link{}
	}
	link := Link{
		CustomerID:     md[metadataCustomerID],
		ProjectKey:     md[metadataProjectKey],
		SubscriptionID: md[metadataSubscriptionID],
	}
	if id, err := uuid.Parse(md[metadataPaymentID]); err == nil {
		link.PaymentID = id
	}
	if id, err := uuid.Parse(md[metadataCartID]); err == nil {
		link.CartID = id
	}
	return link
}
