// Package verp builds and recognizes the VERP tokens this filter embeds in
// envelope senders. A tagged sender has the shape
//
//	<marker>.<unix-epoch-seconds>.<original-sender>
//
// The token is parseable back to the timestamp and sender, but the
// authoritative mapping lives in the correlation database; recovery from
// the token alone is best-effort.
package verp

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Separator joins the marker, timestamp and sender. It is a character not
// expected inside email local-parts the filter handles.
const Separator = "."

// subAddress matches a +suffix sub-address immediately before the @, e.g.
// the "+news" in alice+news@example.com.
var subAddress = regexp.MustCompile(`\+[^@]+@`)

// IsTagged reports whether sender already carries the marker, from this
// filter or from upstream VERP rules.
//
// Detection is substring containment, matching the deployed Postfix-side
// behavior: a sender containing the marker anywhere is treated as tagged,
// even when the marker is not an actual token prefix. An anchored check
// would be stricter but changes classification of in-flight mail, so it is
// deliberately not applied here.
func IsTagged(sender, marker string) bool {
	return strings.Contains(sender, marker+Separator)
}

// New derives the tag for sender at the given time. The sender goes in
// whole, sub-address suffix included; Detag is only applied to the copy
// stored in the correlation record.
func New(marker, sender string, now time.Time) string {
	return marker + Separator + strconv.FormatInt(now.Unix(), 10) + Separator + sender
}

// Detag strips a +suffix sub-address from the local part, so bounces for
// alice+news@example.com correlate back to alice@example.com. Applying it
// to an already-detagged address is a no-op.
func Detag(sender string) string {
	return subAddress.ReplaceAllString(sender, "@")
}

// Tag is a parsed VERP token.
type Tag struct {
	Marker string
	Sent   time.Time
	Sender string
}

// Parse splits a tagged envelope sender back into its parts. The sender
// component may itself contain the separator, so only the two leading
// fields are structural.
func Parse(tagged, marker string) (Tag, error) {
	rest, ok := strings.CutPrefix(tagged, marker+Separator)
	if !ok {
		return Tag{}, fmt.Errorf("%q does not start with marker %q", tagged, marker)
	}
	epoch, sender, ok := strings.Cut(rest, Separator)
	if !ok {
		return Tag{}, fmt.Errorf("%q has no timestamp component", tagged)
	}
	secs, err := strconv.ParseInt(epoch, 10, 64)
	if err != nil {
		return Tag{}, fmt.Errorf("parse timestamp %q: %w", epoch, err)
	}
	return Tag{Marker: marker, Sent: time.Unix(secs, 0), Sender: sender}, nil
}
