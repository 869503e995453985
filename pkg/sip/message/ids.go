package message

import (
	"strings"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
)

// BranchMagicCookie prefixes every RFC 3261 branch parameter.
const BranchMagicCookie = "z9hG4bK"

// GenerateBranch generates a branch parameter for Via header
func GenerateBranch() string {
	b := sip.GenerateBranch()
	if !strings.HasPrefix(b, BranchMagicCookie) {
		b = BranchMagicCookie + b
	}
	return b
}

// GenerateTag generates a tag for From/To headers
func GenerateTag() string {
	return sip.GenerateTagN(16)
}

// GenerateCallID generates a Call-ID, optionally qualified with a host.
func GenerateCallID(host string) string {
	id := uuid.NewString()
	if host == "" {
		return id
	}
	return id + "@" + host
}
