package lending

// Policy makes the authorization contract for whitelist and treasury
// operations explicit. The source program performed no admin check on these
// flows at all; rather than reproduce the implicit absence of a check, the
// engine consults this policy at the start of each gated operation.
//
// Config updates and admin additions are always restricted to the founding
// admin regardless of policy.
type Policy struct {
	// RequireAdminForWhitelist gates WhitelistUser/RemoveWhitelist behind the
	// founding admin or an active AdminEntry.
	RequireAdminForWhitelist bool `json:"requireAdminForWhitelist" toml:"RequireAdminForWhitelist" yaml:"requireAdminForWhitelist"`
	// RequireAdminForTreasury gates Deposit/Withdraw the same way.
	RequireAdminForTreasury bool `json:"requireAdminForTreasury" toml:"RequireAdminForTreasury" yaml:"requireAdminForTreasury"`
}

// DefaultPolicy returns the strict policy: whitelist and treasury operations
// require a recognised admin.
func DefaultPolicy() Policy {
	return Policy{
		RequireAdminForWhitelist: true,
		RequireAdminForTreasury:  true,
	}
}
