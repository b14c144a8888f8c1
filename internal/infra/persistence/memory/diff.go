package memory

import (
	"sort"

	"github.com/gagliardetto/solana-go"
)

// Diff compares two snapshots and returns the accounts that must be written
// and the addresses that must be removed to turn prev into next. Both results
// are ordered by base58 address.
func Diff(prev, next Snapshot) (upserts []Account, deletes []solana.PublicKey) {
	keys := make([]string, 0, len(next.Accounts))
	for k := range next.Accounts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		acct := next.Accounts[k]
		if old, ok := prev.Accounts[k]; ok && old.Equal(acct) {
			continue
		}
		upserts = append(upserts, acct.Clone())
	}
	removed := make([]string, 0)
	for k := range prev.Accounts {
		if _, ok := next.Accounts[k]; !ok {
			removed = append(removed, k)
		}
	}
	sort.Strings(removed)
	for _, k := range removed {
		deletes = append(deletes, prev.Accounts[k].Address)
	}
	return upserts, deletes
}
