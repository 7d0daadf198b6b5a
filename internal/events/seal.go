package events

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// GenesisHash is the previous hash of the first sealed batch.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Seal links b to prev and stores the SHA-256 of its canonical JSON form in b.Hash.
func Seal(prev string, b *Batch) error {
	b.PrevHash = prev
	b.Hash = ""
	sum, err := digest(*b)
	if err != nil {
		return err
	}
	b.Hash = sum
	return nil
}

// Verify checks that batches form an unbroken chain starting at GenesisHash or at
// the PrevHash of the first element.
func Verify(batches []Batch) error {
	for i, b := range batches {
		if i > 0 && b.PrevHash != batches[i-1].Hash {
			return fmt.Errorf("events: block %d does not link to block %d", b.Block, batches[i-1].Block)
		}
		want := b.Hash
		b.Hash = ""
		got, err := digest(b)
		if err != nil {
			return err
		}
		if got != want {
			return fmt.Errorf("events: block %d hash mismatch", b.Block)
		}
	}
	return nil
}

func digest(b Batch) (string, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("events: marshal batch: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("events: canonicalize batch: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
