package extraction

import "strings"

// NormalizeDomains trims each entry and strips an http(s) scheme and a leading
// "www.". Entries that end up empty are dropped; order is preserved.
func NormalizeDomains(raw []string) []string {
	out := make([]string, 0, len(raw))

	for _, d := range raw {
		d = strings.TrimSpace(d)
		d = trimPrefixFold(d, "https://")
		d = trimPrefixFold(d, "http://")
		d = trimPrefixFold(d, "www.")
		if d != "" {
			out = append(out, d)
		}
	}

	return out
}

func trimPrefixFold(s, prefix string) string {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):]
	}
	return s
}

// SourceURL is the page fetched for a domain.
func SourceURL(domain string) string {
	return "https://" + domain
}
