package venue

import "strings"

// crypto15mMarkers identify the venue's 15-minute crypto price markets,
// whose slugs follow patterns like "bitcoin-up-or-down-august-29-3pm-et".
var crypto15mMarkers = []string{
	"bitcoin-up-or-down",
	"ethereum-up-or-down",
	"solana-up-or-down",
	"xrp-up-or-down",
	"btc-updown",
	"eth-updown",
}

func isCrypto15mSlug(slug string) bool {
	s := strings.ToLower(slug)
	for _, marker := range crypto15mMarkers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}
