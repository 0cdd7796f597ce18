package taskname

const (
	// Event processing
	LoyaltyProcessEvent = "loyalty:process_event"

	// Ledger maintenance
	LoyaltyExpiryRun    = "loyalty:expiry:run"
	LoyaltyExpiryTenant = "loyalty:expiry:tenant"
)
