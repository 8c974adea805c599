package ledger

const (
	operationCreateWallet = "create_wallet"
	operationAddCredits   = "add_credits"
	operationDeductCredit = "deduct_credits"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	defaultMetadataJSON = "{}"

	// DefaultTenantID is used when no tenant is configured.
	DefaultTenantID = "default"
	// DefaultCurrency is the symbolic wallet unit.
	DefaultCurrency = "CREDITS"

	referenceSystem    = "SYSTEM"
	referenceManual    = "MANUAL"
	referenceAPIUsage  = "API_USAGE"
	descriptionInitial = "Initial credit allocation"
	descriptionCredit  = "Credit addition"
	descriptionDebit   = "Credit deduction"

	defaultTransactionLimit = 10
	maxTransactionLimit     = 200
)
