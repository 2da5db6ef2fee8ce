package assistant

import "strings"

// sentinelPrefix marks a generated line that requests a product lookup:
//
//	SEARCH: <product_type> <key_ingredient> under $25 CAD
//
// The format of the free text after the token is prompt convention only and
// is not enforced here.
const sentinelPrefix = "SEARCH:"

// ExtractSearchQuery scans the generated text line by line and returns the
// product query from the first sentinel line, stripped of the token and
// surrounding whitespace. Exactly one query is recognized per response: the
// first match wins even when later sentinel lines exist. The second return
// is false when no line matches.
func ExtractSearchQuery(text string) (string, bool) {
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, sentinelPrefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, sentinelPrefix)), true
		}
	}
	return "", false
}
