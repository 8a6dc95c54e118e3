package auth

import (
	"strings"
)

// NormalizeDomain collapses any resource URL under a site to the one key
// the token store and proxy registry use for that site. Admin URLs collapse
// to the admin root, everything else to the services directory root. The
// scheme is kept so http and https sites stay distinct.
func NormalizeDomain(rawURL string) string {
	u := strings.ToLower(strings.TrimSpace(rawURL))
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	u = strings.TrimRight(u, "/")

	if i := strings.Index(u, "/admin"); i >= 0 {
		return u[:i] + "/admin"
	}
	if i := strings.Index(u, "/rest/services"); i >= 0 {
		return u[:i] + "/rest/services"
	}
	return u
}

// infoURL derives the site information endpoint from any resource URL.
func infoURL(rawURL string) string {
	u := strings.TrimRight(rawURL, "/")
	if i := strings.Index(u, "/rest/"); i >= 0 {
		return u[:i] + "/rest/info"
	}
	if i := strings.Index(u, "/admin"); i >= 0 {
		return u[:i] + "/rest/info"
	}
	return u + "/rest/info"
}

// siteRoot trims a URL down to the part before any /arcgis segment, used
// when probing for a resource proxy.
func siteRoot(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	if i := strings.Index(d, "/arcgis"); i >= 0 {
		d = d[:i]
	}
	if !strings.HasPrefix(d, "http") {
		d = "http://" + d
	}
	return strings.TrimRight(d, "/")
}
