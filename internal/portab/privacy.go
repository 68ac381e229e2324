package portab

import (
	"net/url"
	"strings"

	"portab/internal/model"
)

// Placeholders written over tab titles.
const (
	RedactedTitle = "[redacted]"
	HiddenTitle   = "[hidden]"
)

// TrackingParams are the query parameters privacy mode removes. Names are
// matched exactly and case-sensitively.
var TrackingParams = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
	"utm_id", "utm_name", "utm_reader", "utm_social", "utm_brand",
	"fbclid", "gclid", "gclsrc", "dclid", "gbraid", "wbraid", "msclkid",
	"yclid", "twclid", "ttclid", "igshid", "li_fat_id",
	"mc_cid", "mc_eid", "_ga", "_gl", "_hsenc", "_hsmi", "__hssc", "__hstc", "__hsfp",
	"mkt_tok", "oly_anon_id", "oly_enc_id", "vero_id", "vero_conv",
	"s_cid", "ref_src", "spm", "wickedid", "rb_clickid",
}

var trackingSet = func() map[string]bool {
	m := make(map[string]bool, len(TrackingParams))
	for _, p := range TrackingParams {
		m[p] = true
	}
	return m
}()

// Redaction selects the privacy transforms applied to a container.
// Both may be set: privacy mode runs first, then secure mode, so titles end
// up hidden rather than redacted.
type Redaction struct {
	// Privacy strips tracking parameters, redacts titles and drops favicons.
	Privacy bool
	// Secure hides titles and drops favicons but leaves URLs alone.
	Secure bool
}

// Any reports whether any transform is selected.
func (r Redaction) Any() bool { return r.Privacy || r.Secure }

// Redact returns a copy of c with r applied. Window and tab structure,
// order and ids are untouched. The metadata flags accumulate, so redacting
// an already redacted container keeps both flags.
func Redact(c *model.Container, r Redaction) *model.Container {
	out := c.Clone()
	if !r.Any() {
		return out
	}

	for i := range out.Windows {
		for j := range out.Windows[i].Tabs {
			t := &out.Windows[i].Tabs[j]
			if r.Privacy {
				t.URL = StripTracking(t.URL)
				t.Title = RedactedTitle
				t.Favicon = ""
			}
			if r.Secure {
				t.Title = HiddenTitle
				t.Favicon = ""
			}
		}
	}
	out.Metadata.PrivacyMode = out.Metadata.PrivacyMode || r.Privacy
	out.Metadata.SecureMode = out.Metadata.SecureMode || r.Secure
	return out
}

// StripTracking removes TrackingParams from raw's query. Remaining
// parameters keep their order and encoding. A URL with nothing to strip,
// or one that does not parse, is returned unchanged.
func StripTracking(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery == "" {
		return raw
	}

	pairs := strings.Split(u.RawQuery, "&")
	kept := pairs[:0:0]
	for _, pair := range pairs {
		name, _, _ := strings.Cut(pair, "=")
		if unescaped, err := url.QueryUnescape(name); err == nil {
			name = unescaped
		}
		if trackingSet[name] {
			continue
		}
		kept = append(kept, pair)
	}
	if len(kept) == len(pairs) {
		return raw
	}

	u.RawQuery = strings.Join(kept, "&")
	return u.String()
}
