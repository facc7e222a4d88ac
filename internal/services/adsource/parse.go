package adsource

import (
	"encoding/json"
	"log"
	"strings"
	"time"
)

// textField tolerates the API serialising text as either a bare string or an
// object with a "text" member.
type textField string

func (t *textField) UnmarshalJSON(data []byte) error {
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		*t = textField(plain)
		return nil
	}
	var wrapped struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil {
		*t = textField(wrapped.Text)
		return nil
	}
	*t = ""
	return nil
}

type wireCard struct {
	ResizedImageURL      string    `json:"resized_image_url"`
	OriginalImageURL     string    `json:"original_image_url"`
	VideoPreviewImageURL string    `json:"video_preview_image_url"`
	Body                 textField `json:"body"`
	Title                textField `json:"title"`
}

// wireLinkFields are the snapshot members that may carry a destination URL.
type wireLinkFields struct {
	LinkURL        string `json:"link_url"`
	CTAURL         string `json:"cta_url"`
	WebsiteURL     string `json:"website_url"`
	DestinationURL string `json:"destination_url"`
	LandingPageURL string `json:"landing_page_url"`
	ClickURL       string `json:"click_url"`
}

func (w wireLinkFields) urls() []string {
	var urls []string
	for _, candidate := range []string{
		w.LinkURL, w.CTAURL, w.WebsiteURL,
		w.DestinationURL, w.LandingPageURL, w.ClickURL,
	} {
		if candidate = strings.TrimSpace(candidate); candidate != "" {
			urls = append(urls, candidate)
		}
	}
	return urls
}

type wireAd struct {
	AdArchiveID       string   `json:"ad_archive_id"`
	PageName          string   `json:"page_name"`
	StartDate         *int64   `json:"start_date"`
	EndDate           *int64   `json:"end_date"`
	PublisherPlatform []string `json:"publisher_platform"`
	Snapshot          struct {
		wireLinkFields
		DisplayFormat string    `json:"display_format"`
		PageName      string    `json:"page_name"`
		Body          textField `json:"body"`
		Title         textField `json:"title"`
		Images        []struct {
			ResizedImageURL string `json:"resized_image_url"`
		} `json:"images"`
		Videos []struct {
			VideoSDURL string `json:"video_sd_url"`
		} `json:"videos"`
		Cards        []wireCard `json:"cards"`
		CallToAction struct {
			wireLinkFields
			Link wireLinkFields `json:"link"`
		} `json:"call_to_action"`
		OutboundLinks []string `json:"outbound_links"`
	} `json:"snapshot"`
}

// destinationURLs gathers every link carried by the snapshot, direct fields
// first, then the call-to-action and its nested link, then outbound links.
func (w wireAd) destinationURLs() []string {
	urls := w.Snapshot.urls()
	urls = append(urls, w.Snapshot.CallToAction.urls()...)
	urls = append(urls, w.Snapshot.CallToAction.Link.urls()...)
	for _, outbound := range w.Snapshot.OutboundLinks {
		if outbound = strings.TrimSpace(outbound); outbound != "" {
			urls = append(urls, outbound)
		}
	}
	return urls
}

// parseAds flattens raw ad records into Ad values. Records without a usable
// media URL are dropped; carousel (DCO) ads expand to one Ad per card.
func parseAds(raw []json.RawMessage, filterInactive bool) []Ad {
	now := time.Now()
	var ads []Ad
	for _, record := range raw {
		var wire wireAd
		if err := json.Unmarshal(record, &wire); err != nil {
			log.Printf("adsource: skipping unparseable ad record: %v", err)
			continue
		}
		if wire.AdArchiveID == "" {
			continue
		}

		startDate := unixDate(wire.StartDate)
		endDate := unixDate(wire.EndDate)
		if filterInactive && endDate != nil && endDate.Before(now) {
			continue
		}

		pageName := wire.PageName
		if pageName == "" {
			pageName = wire.Snapshot.PageName
		}
		base := Ad{
			ID:        wire.AdArchiveID,
			PageName:  pageName,
			Body:      string(wire.Snapshot.Body),
			Title:     string(wire.Snapshot.Title),
			StartDate: startDate,
			EndDate:   endDate,
			Platforms: wire.PublisherPlatform,
			// Destination links are per snapshot, so every card of a
			// carousel shares them.
			Links: parseLinks(wire.destinationURLs()),
		}

		switch wire.Snapshot.DisplayFormat {
		case "IMAGE":
			if len(wire.Snapshot.Images) > 0 && wire.Snapshot.Images[0].ResizedImageURL != "" {
				ad := base
				ad.MediaType = "IMAGE"
				ad.MediaURL = wire.Snapshot.Images[0].ResizedImageURL
				ads = append(ads, ad)
			}
		case "VIDEO":
			if len(wire.Snapshot.Videos) > 0 && wire.Snapshot.Videos[0].VideoSDURL != "" {
				ad := base
				ad.MediaType = "VIDEO"
				ad.MediaURL = wire.Snapshot.Videos[0].VideoSDURL
				ads = append(ads, ad)
			}
		case "DCO":
			for _, card := range wire.Snapshot.Cards {
				mediaURL := card.ResizedImageURL
				if mediaURL == "" {
					mediaURL = card.OriginalImageURL
				}
				if mediaURL == "" {
					mediaURL = card.VideoPreviewImageURL
				}
				if mediaURL == "" {
					continue
				}
				ad := base
				ad.MediaType = "IMAGE"
				ad.MediaURL = mediaURL
				if card.Body != "" {
					ad.Body = string(card.Body)
				}
				if card.Title != "" {
					ad.Title = string(card.Title)
				}
				ads = append(ads, ad)
			}
		}
	}
	return ads
}

func unixDate(value *int64) *time.Time {
	if value == nil {
		return nil
	}
	date := time.Unix(*value, 0).UTC()
	return &date
}
