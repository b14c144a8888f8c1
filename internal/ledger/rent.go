package ledger

// AccountStorageOverhead is the per-account byte overhead charged on top of
// the data length.
const AccountStorageOverhead = 128

// Rent describes the balance an account must hold to be rent exempt.
type Rent struct {
	LamportsPerByteYear uint64
	ExemptionThreshold  uint64
}

// DefaultRent returns the mainnet rent parameters.
func DefaultRent() Rent {
	return Rent{LamportsPerByteYear: 3480, ExemptionThreshold: 2}
}

// MinimumBalance returns the rent-exempt balance for an account holding
// space bytes of data.
func (r Rent) MinimumBalance(space uint64) uint64 {
	return (AccountStorageOverhead + space) * r.LamportsPerByteYear * r.ExemptionThreshold
}

// IsExempt reports whether lamports covers the minimum balance for space.
func (r Rent) IsExempt(lamports, space uint64) bool {
	return lamports >= r.MinimumBalance(space)
}
