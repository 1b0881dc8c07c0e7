package task

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Fingerprint returns a stable content hash over the identity-bearing
// fields of the record: id, type, title, and description. Creation time
// is deliberately excluded so that two stores stamping drifted clocks on
// the same task still fingerprint alike; timestamps are compared
// separately by SameIdentity.
func (r *Record) Fingerprint() string {
	h := blake3.New()

	// Field separator that cannot appear in the values
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}

	write(string(r.ID))
	write(string(r.Type))
	write(r.Title)
	write(r.Description)

	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

// SameIdentity reports whether two records describe the same task.
// Equal creation timestamps settle it immediately; when the timestamps
// drifted, matching content fingerprints still mean one task. Only equal
// ids carrying both different timestamps and different content are an
// identity collision.
func SameIdentity(a, b *Record) bool {
	if a.ID != b.ID {
		return false
	}
	if a.CreatedAt.Equal(b.CreatedAt) {
		return true
	}
	return a.Fingerprint() == b.Fingerprint()
}

// ShortFingerprint returns a short human-readable form for log output
func (r *Record) ShortFingerprint() string {
	fp := r.Fingerprint()
	if len(fp) > 8 {
		fp = fp[:8]
	}
	return fmt.Sprintf("%s@%s", r.ID, fp)
}
