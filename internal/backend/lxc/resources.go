package lxc

// CoresFromShares converts a cgroup cpu.shares value into a whole LXC
// core count, rounding to the nearest core and never returning fewer
// than one (spec §4.6.1 resource translation table).
func CoresFromShares(shares uint64) int {
	cores := int((shares + 512) / 1024)
	if cores < 1 {
		return 1
	}
	return cores
}

// CoresFromQuota converts a cgroup cpu.cfs_quota_us/cfs_period_us pair
// into a whole LXC core count, rounding up so a fractional quota never
// under-provisions.
func CoresFromQuota(quotaUS int64, periodUS uint64) int {
	if quotaUS <= 0 || periodUS == 0 {
		return 1
	}
	cores := (quotaUS + int64(periodUS) - 1) / int64(periodUS)
	if cores < 1 {
		return 1
	}
	return int(cores)
}

// MiBFromBytes converts a byte count into whole mebibytes, rounding up
// so a memory limit is never silently reduced.
func MiBFromBytes(limitBytes int64) int {
	if limitBytes <= 0 {
		return 0
	}
	const mib = 1024 * 1024
	return int((limitBytes + mib - 1) / mib)
}

// resolveCores applies the precedence order for §4.6.1: explicit CPU
// quota beats shares, and an absent or zero CPU resource block yields
// zero, meaning "don't pass --cores" to pct.
func resolveCores(shares *uint64, quota *int64, period *uint64) int {
	if quota != nil && *quota > 0 {
		p := uint64(100000)
		if period != nil && *period > 0 {
			p = *period
		}
		return CoresFromQuota(*quota, p)
	}
	if shares != nil && *shares > 0 {
		return CoresFromShares(*shares)
	}
	return 0
}
