package lending

// DayIndex converts a timestamp into a calendar day index. The day boundary
// is shifted away from UTC midnight by offset seconds so that "days elapsed"
// math matches the business cutoff of the deployment. All duration and
// accrual computations route through this function.
func DayIndex(timestamp uint64, offset int64) int64 {
	shifted := int64(timestamp) + offset
	if shifted >= 0 {
		return shifted / dayLength
	}
	// Floor division for instants before the epoch cutoff.
	return -((-shifted + dayLength - 1) / dayLength)
}

func (e *Engine) dayIndex(timestamp uint64) int64 {
	return DayIndex(timestamp, e.cfg.DayBoundaryOffset)
}
