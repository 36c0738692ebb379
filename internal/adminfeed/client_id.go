package adminfeed

import (
	"crypto/rand"
	"encoding/hex"
)

// randomClientID mints a short opaque id for a connected observer.
// strongdm-leash uses github.com/google/uuid for this; that dependency
// was not carried into this module (DESIGN.md), so crypto/rand stands in
// for the same "unique per connection" requirement.
func randomClientID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
