package lending

// Config captures the runtime configuration for the sub-loan ledger module.
type Config struct {
	// AccuracyUnit is the smallest externally visible money increment.
	// Repayment and discount amounts must be exact multiples of it.
	AccuracyUnit uint64 `toml:"AccuracyUnit"`
	// DayBoundaryOffset shifts the day boundary away from UTC midnight,
	// expressed in seconds. Negative values move the cutoff earlier.
	DayBoundaryOffset int64 `toml:"DayBoundaryOffset"`
	// SubLoanCountMax bounds the number of sub-loans in a single loan batch.
	SubLoanCountMax int `toml:"SubLoanCountMax"`
	// SubLoanAutoIDStart seeds the auto-assigned sub-loan id counter so the
	// ledger never collides with externally addressable id spaces.
	SubLoanAutoIDStart uint64 `toml:"SubLoanAutoIDStart"`
}

// DefaultConfig returns the reference deployment parameters.
func DefaultConfig() Config {
	return Config{
		AccuracyUnit:       defaultAccuracyUnit,
		DayBoundaryOffset:  defaultDayBoundaryOffset,
		SubLoanCountMax:    defaultSubLoanCountMax,
		SubLoanAutoIDStart: defaultSubLoanAutoIDStart,
	}
}

// EnsureDefaults populates zero-valued fields so a partially decoded
// configuration is still usable.
func (c *Config) EnsureDefaults() {
	if c.AccuracyUnit == 0 {
		c.AccuracyUnit = defaultAccuracyUnit
	}
	if c.DayBoundaryOffset == 0 {
		c.DayBoundaryOffset = defaultDayBoundaryOffset
	}
	if c.SubLoanCountMax == 0 {
		c.SubLoanCountMax = defaultSubLoanCountMax
	}
	if c.SubLoanAutoIDStart == 0 {
		c.SubLoanAutoIDStart = defaultSubLoanAutoIDStart
	}
}
