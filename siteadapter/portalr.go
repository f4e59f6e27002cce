package siteadapter

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"rentpipeline/errs"
	"rentpipeline/identity"
	"rentpipeline/models"
)

// trailingDigitsRegex pulls the listing ID from a detail URL's trailing
// path segment when data-listing-id is absent (portal-R fallback order).
var trailingDigitsRegex = regexp.MustCompile(`(\d+)/?$`)

// PortalR adapts portal-r.example.com.au, which identifies listings via
// data-listing-id (or trailing URL digits) and renders bed/bath/parking
// counts as icon-adjacent numerics rather than a labelled feature list.
type PortalR struct{}

func NewPortalR() *PortalR { return &PortalR{} }

func (a *PortalR) Source() models.Source { return models.SourcePortalR }

func (a *PortalR) SearchURL(area string) string {
	return fmt.Sprintf("https://www.portal-r.example.com.au/for-rent/%s", area)
}

func (a *PortalR) Paginate(currentURL string, pageN int) string {
	if pageN >= maxPages {
		pageN = maxPages
	}
	base := currentURL
	if idx := strings.Index(base, "/page-"); idx >= 0 {
		base = base[:idx]
	}
	if pageN <= 1 {
		return base
	}
	return fmt.Sprintf("%s/page-%d", base, pageN)
}

func (a *PortalR) HasNext(html string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}
	return doc.Find(`a.pagination__next`).Not(`.pagination__next--disabled`).Length() > 0
}

func (a *PortalR) DetailURL(prop *models.Property) string {
	return prop.URL
}

func (a *PortalR) ParseList(html string) ([]*models.Property, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, errs.Parse("portal-r: parse list html", err)
	}

	var out []*models.Property
	doc.Find(`div.listing-card`).Each(func(_ int, card *goquery.Selection) {
		href, _ := card.Find("a.listing-card__link[href]").First().Attr("href")

		houseID, _ := card.Attr("data-listing-id")
		if houseID == "" {
			if m := trailingDigitsRegex.FindStringSubmatch(href); m != nil {
				houseID = m[1]
			}
		}

		address := strings.TrimSpace(card.Find("span.listing-card__address").Text())
		if houseID == "" {
			houseID = identity.FallbackHouseID(address, "")
		}

		prop := models.NewProperty(models.SourcePortalR, houseID)
		prop.URL = absoluteURLR(href)
		prop.AddressLine1, prop.Suburb, prop.Postcode = splitAddress(address)
		prop.AddressLine2 = models.NormaliseLocality(prop.Suburb)
		prop.PricePerWeek = ParsePriceToken(card.Find("span.listing-card__price").Text())

		var features []string
		card.Find("span.listing-card__feature-value").Each(func(_ int, f *goquery.Selection) {
			features = append(features, strings.TrimSpace(f.Text()))
		})
		prop.BedroomCount, prop.BathroomCount, prop.ParkingCount = ParseFeatureTriple(features)

		var thumbs []string
		card.Find("img[src]").Each(func(_ int, img *goquery.Selection) {
			if src, ok := img.Attr("src"); ok {
				thumbs = append(thumbs, src)
			}
		})
		prop.ThumbnailURL = SelectThumbnail(models.SourcePortalR, thumbs)
		prop.PublishedAt = time.Now()

		if !prop.IsDropCandidate() {
			out = append(out, prop)
		}
	})

	return out, nil
}

func (a *PortalR) ParseDetail(html string, prop *models.Property) (*models.Property, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, errs.Parse("portal-r: parse detail html", err)
	}

	desc := strings.TrimSpace(doc.Find("div.listing-detail__description").Text())
	prop.DescriptionEN = models.TruncateDescription(desc, 1024)

	if avail := strings.TrimSpace(doc.Find("span.listing-detail__available-from").Text()); avail != "" {
		if t, perr := time.Parse("2 January 2006", avail); perr == nil {
			prop.AvailableDate = &t
		}
	}

	prop.PropType = classifyPropertyType(doc.Find("span.listing-detail__property-type").Text())

	return prop, nil
}

func absoluteURLR(href string) string {
	if strings.HasPrefix(href, "http") {
		return href
	}
	return "https://www.portal-r.example.com.au" + href
}
