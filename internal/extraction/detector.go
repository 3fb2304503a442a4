// Package extraction finds Instagram handles on websites and runs extraction jobs.
package extraction

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	// ConfidenceProfileLink is assigned when an anchor links to the profile.
	ConfidenceProfileLink = 95.0
	// ConfidencePatternMatch is assigned to a bare match in the markup.
	ConfidencePatternMatch = 85.0

	minHandleLen = 3
	maxHandleLen = 29

	profileLinkSelector = `a[href*="instagram.com"]`
)

var (
	profileURLPattern = regexp.MustCompile(`instagram\.com/([a-z0-9._]+)`)

	markupPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?:https?://)?(?:www\.)?instagram\.com/([a-z0-9._]+)`),
		regexp.MustCompile(`@([a-z0-9._]+)`),
		regexp.MustCompile(`ig://user\?username=([a-z0-9._]+)`),
	}

	// reservedSegments are platform paths that look like handles but are not.
	reservedSegments = map[string]struct{}{
		"stories":  {},
		"reels":    {},
		"explore":  {},
		"accounts": {},
		"login":    {},
		"signup":   {},
		"help":     {},
	}
)

// Detection is the chosen handle for a page. Handle is empty when none was found.
type Detection struct {
	Handle     string
	Confidence float64
}

// Found reports whether a handle was detected.
func (d Detection) Found() bool {
	return d.Handle != ""
}

// Detect parses an HTML page and picks the most credible handle. Profile links
// win over bare matches; ties go to the first occurrence.
func Detect(body []byte) (Detection, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Detection{}, fmt.Errorf("parse html: %w", err)
	}

	if handle, ok := firstProfileLink(doc); ok {
		return Detection{Handle: "@" + handle, Confidence: ConfidenceProfileLink}, nil
	}

	// Stylesheets are full of at-rules such as @media that would read as handles.
	doc.Find("style").Remove()

	markup, err := doc.Html()
	if err != nil {
		return Detection{}, fmt.Errorf("render html: %w", err)
	}

	if handle, ok := firstMarkupMatch(strings.ToLower(markup)); ok {
		return Detection{Handle: "@" + handle, Confidence: ConfidencePatternMatch}, nil
	}

	return Detection{}, nil
}

func firstProfileLink(doc *goquery.Document) (string, bool) {
	var found string

	doc.Find(profileLinkSelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		m := profileURLPattern.FindStringSubmatch(strings.ToLower(href))
		if m != nil && validHandle(m[1]) {
			found = m[1]
			return false
		}
		return true
	})

	return found, found != ""
}

// firstMarkupMatch tries each pattern in priority order and returns the first
// valid candidate of the first pattern that yields one.
func firstMarkupMatch(markup string) (string, bool) {
	for _, pattern := range markupPatterns {
		for _, m := range pattern.FindAllStringSubmatch(markup, -1) {
			if validHandle(m[1]) {
				return m[1], true
			}
		}
	}
	return "", false
}

func validHandle(h string) bool {
	if len(h) < minHandleLen || len(h) > maxHandleLen {
		return false
	}
	_, reserved := reservedSegments[h]
	return !reserved
}
