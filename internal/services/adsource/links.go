package adsource

import (
	"net/url"
	"strings"
)

// Link is one destination URL carried by an ad, with its query parameters
// already parsed. The full URL is preserved so tracking parameters survive.
type Link struct {
	URL       string            `json:"url"`
	Domain    string            `json:"domain,omitempty"`
	UTMParams map[string]string `json:"utm_params,omitempty"`
	Internal  bool              `json:"internal"`
}

// utmKeys are the tracking parameters surfaced per link.
var utmKeys = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
	"utm_id", "utm_source_platform", "fbclid", "gclid",
}

// internalBaseDomains are Meta and Google properties. Subdomains match by
// suffix, so ads pointing back at these are not external landing pages.
var internalBaseDomains = []string{
	"facebook.com", "fb.com", "fbcdn.net", "facebook.net",
	"instagram.com", "ig.com",
	"messenger.com",
	"whatsapp.com", "wa.me", "whatsapp.net",
	"meta.com",
	"oculus.com",
	"threads.net",
	"google.com", "googleapis.com", "googleusercontent.com", "googletagmanager.com",
	"youtube.com", "youtu.be", "ytimg.com",
	"doubleclick.net", "googleadservices.com", "googlesyndication.com",
	"gmail.com", "googlemail.com",
	"blogger.com", "blogspot.com",
	"googleads.com", "google-analytics.com", "googleadwords.com",
}

func isInternalDomain(domain string) bool {
	for _, base := range internalBaseDomains {
		if domain == base || strings.HasSuffix(domain, "."+base) {
			return true
		}
	}
	return false
}

// parseLink breaks a destination URL into its domain and tracking parameters.
// An unparseable URL degrades to an external link with only the raw URL set.
func parseLink(raw string) (Link, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Link{}, false
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return Link{URL: raw}, true
	}

	link := Link{URL: raw, Domain: strings.ToLower(parsed.Host)}
	link.Internal = link.Domain != "" && isInternalDomain(link.Domain)

	query := parsed.Query()
	for _, key := range utmKeys {
		if value := query.Get(key); value != "" {
			if link.UTMParams == nil {
				link.UTMParams = make(map[string]string)
			}
			link.UTMParams[key] = value
		}
	}
	return link, true
}

// parseLinks parses every URL, dropping blanks and duplicates while keeping
// first-seen order.
func parseLinks(raw []string) []Link {
	var links []Link
	seen := make(map[string]bool, len(raw))
	for _, candidate := range raw {
		link, ok := parseLink(candidate)
		if !ok || seen[link.URL] {
			continue
		}
		seen[link.URL] = true
		links = append(links, link)
	}
	return links
}
