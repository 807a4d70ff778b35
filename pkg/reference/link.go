package reference

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/Mindburn-Labs/verichat/pkg/keymaterial"
)

const linkPath = "/r/"

// Link builds the shareable URL for a reference. The passphrase travels in
// the fragment, which browsers do not send to the server. The result is
// also the QR payload.
func Link(base string, r Reference, passphrase []string) string {
	return strings.TrimRight(base, "/") + linkPath + r.String() + "#" + strings.Join(passphrase, "-")
}

// ParseLink inverts Link.
func ParseLink(link string) (Reference, []string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return Reference{}, nil, fmt.Errorf("%w: %v", ErrMalformedReference, err)
	}
	i := strings.LastIndex(u.Path, linkPath)
	if i < 0 {
		return Reference{}, nil, fmt.Errorf("%w: link has no reference path", ErrMalformedReference)
	}
	r, err := Decode(u.Path[i+len(linkPath):])
	if err != nil {
		return Reference{}, nil, err
	}
	return r, keymaterial.ParsePassphrase(u.Fragment), nil
}
