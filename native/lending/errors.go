package lending

import "errors"

// Sentinel errors surfaced by the engine. Callers discriminate with errors.Is;
// the gateway maps each category onto an HTTP status. Every failure is
// terminal for the call and leaves no state change behind.
var (
	ErrNilState    = errors.New("lending engine: state not configured")
	ErrNilLedger   = errors.New("lending engine: ledger not configured")
	ErrNilConfig   = errors.New("lending engine: config parameters required")
	ErrNilTreasury = errors.New("lending engine: treasury vault not configured")

	// ErrAlreadyInitialized signals a second Initialize call.
	ErrAlreadyInitialized = errors.New("lending engine: already initialized")
	// ErrNotInitialized signals any operation before Initialize.
	ErrNotInitialized = errors.New("lending engine: not initialized")

	// ErrUnauthorized covers every caller-identity failure.
	ErrUnauthorized = errors.New("lending engine: caller not authorized")

	// Registry conflicts.
	ErrAdminExists        = errors.New("lending engine: admin entry already exists")
	ErrWhitelistExists    = errors.New("lending engine: whitelist entry already exists")
	ErrWhitelistNotFound  = errors.New("lending engine: whitelist entry not found")
	ErrNotWhitelisted     = errors.New("lending engine: user is not whitelisted")
	ErrLoanActive         = errors.New("lending engine: loan already active")
	ErrLoanNotFound       = errors.New("lending engine: loan not found")
	ErrLoanNotActive      = errors.New("lending engine: loan not active")
	ErrLoanNotDue         = errors.New("lending engine: loan not due for liquidation")
	ErrCollateralMismatch = errors.New("lending engine: collateral vault missing for loan")

	// Argument validation.
	ErrInvalidAmount    = errors.New("lending engine: amount must be positive")
	ErrInvalidDuration  = errors.New("lending engine: loan duration outside configured bounds")
	ErrUnsupportedToken = errors.New("lending engine: unsupported loan token")
)
