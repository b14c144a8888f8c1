package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"craftskins/pkg/domain"
)

// SnapshotContentType tags archived ledger snapshots.
const SnapshotContentType = "application/vnd.craftskins.snapshot+json"

// Snapshot metadata keys.
const (
	MetaSlot     = "slot"
	MetaAccounts = "accounts"
)

type snapshotDocument struct {
	Slot       uint64          `json:"slot"`
	CapturedAt time.Time       `json:"captured_at"`
	State      domain.Snapshot `json:"state"`
}

// SaveSnapshot writes snap under key, recording the slot it was taken at.
func SaveSnapshot(ctx context.Context, store Store, key string, slot uint64, snap domain.Snapshot) (Info, error) {
	doc := snapshotDocument{Slot: slot, CapturedAt: time.Now().UTC(), State: snap}
	b, err := json.Marshal(doc)
	if err != nil {
		return Info{}, fmt.Errorf("encode snapshot: %w", err)
	}
	return store.Put(ctx, key, bytes.NewReader(b), PutOptions{
		ContentType: SnapshotContentType,
		Metadata: map[string]string{
			MetaSlot:     strconv.FormatUint(slot, 10),
			MetaAccounts: strconv.Itoa(len(snap.Accounts)),
		},
	})
}

// LoadSnapshot reads the snapshot stored under key and the slot it was taken
// at.
func LoadSnapshot(ctx context.Context, store Store, key string) (domain.Snapshot, uint64, error) {
	_, body, err := store.Get(ctx, key)
	if err != nil {
		return domain.Snapshot{}, 0, err
	}
	defer body.Close()
	var doc snapshotDocument
	if err := json.NewDecoder(body).Decode(&doc); err != nil {
		return domain.Snapshot{}, 0, fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	if doc.State.Accounts == nil {
		doc.State.Accounts = map[string]domain.Account{}
	}
	return doc.State, doc.Slot, nil
}
