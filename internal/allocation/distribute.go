package allocation

// DistributeEvenly splits total across teamSize members. Members at
// index < total%teamSize receive one extra unit, so the result depends
// only on total, teamSize and the caller's member order — repeated calls
// with an unchanged team produce identical shares.
func DistributeEvenly(total, teamSize int) []int {
	if teamSize <= 0 {
		return nil
	}
	shares := make([]int, teamSize)
	if total <= 0 {
		return shares
	}
	base := total / teamSize
	remainder := total % teamSize
	for i := range shares {
		shares[i] = base
		if i < remainder {
			shares[i]++
		}
	}
	return shares
}
