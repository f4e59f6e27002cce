package siteadapter

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"rentpipeline/errs"
	"rentpipeline/identity"
	"rentpipeline/models"
)

// PortalD adapts portal-d.example.com.au, which exposes stable listing
// IDs via data-testid="listing-<id>" and orders bed/bath/parking as
// sibling data-testid="property-features-feature" nodes.
type PortalD struct{}

func NewPortalD() *PortalD { return &PortalD{} }

func (a *PortalD) Source() models.Source { return models.SourcePortalD }

func (a *PortalD) SearchURL(area string) string {
	return fmt.Sprintf("https://www.portal-d.example.com.au/rent/%s/", area)
}

func (a *PortalD) Paginate(currentURL string, pageN int) string {
	if pageN >= maxPages {
		pageN = maxPages
	}
	base := strings.TrimSuffix(currentURL, "/")
	if idx := strings.Index(base, "?page="); idx >= 0 {
		base = base[:idx]
	}
	return fmt.Sprintf("%s/?page=%d", base, pageN)
}

func (a *PortalD) HasNext(html string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}
	return doc.Find(`[data-testid="pagination-next"]`).Not(`[disabled]`).Length() > 0
}

func (a *PortalD) DetailURL(prop *models.Property) string {
	return prop.URL
}

func (a *PortalD) ParseList(html string) ([]*models.Property, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, errs.Parse("portal-d: parse list html", err)
	}

	var out []*models.Property
	doc.Find(`[data-testid^="listing-"]`).Each(func(_ int, card *goquery.Selection) {
		testID, _ := card.Attr("data-testid")
		houseID := strings.TrimPrefix(testID, "listing-")

		href, _ := card.Find("a[href]").First().Attr("href")
		address := strings.TrimSpace(card.Find(`[data-testid="listing-address"]`).Text())

		if houseID == "" {
			houseID = identity.FallbackHouseID(address, "")
		}

		prop := models.NewProperty(models.SourcePortalD, houseID)
		prop.URL = absoluteURL(href)
		prop.AddressLine1, prop.Suburb, prop.Postcode = splitAddress(address)
		prop.AddressLine2 = models.NormaliseLocality(prop.Suburb)
		prop.PricePerWeek = ParsePriceToken(card.Find(`[data-testid="listing-price"]`).Text())

		var features []string
		card.Find(`[data-testid="property-features-feature"]`).Each(func(_ int, f *goquery.Selection) {
			features = append(features, strings.TrimSpace(f.Text()))
		})
		prop.BedroomCount, prop.BathroomCount, prop.ParkingCount = ParseFeatureTriple(features)

		var thumbs []string
		card.Find("img[src]").Each(func(_ int, img *goquery.Selection) {
			if src, ok := img.Attr("src"); ok {
				thumbs = append(thumbs, src)
			}
		})
		prop.ThumbnailURL = SelectThumbnail(models.SourcePortalD, thumbs)
		prop.PublishedAt = time.Now()

		if !prop.IsDropCandidate() {
			out = append(out, prop)
		}
	})

	return out, nil
}

func (a *PortalD) ParseDetail(html string, prop *models.Property) (*models.Property, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, errs.Parse("portal-d: parse detail html", err)
	}

	desc := strings.TrimSpace(doc.Find(`[data-testid="listing-details__description"]`).Text())
	prop.DescriptionEN = models.TruncateDescription(desc, 1024)

	if avail := strings.TrimSpace(doc.Find(`[data-testid="listing-summary-available-date"]`).Text()); avail != "" {
		if t, perr := time.Parse("02/01/2006", avail); perr == nil {
			prop.AvailableDate = &t
		}
	}

	prop.PropType = classifyPropertyType(doc.Find(`[data-testid="listing-summary-property-type"]`).Text())

	return prop, nil
}

func splitAddress(full string) (line1, suburb, postcode string) {
	parts := strings.Split(full, ",")
	line1 = strings.TrimSpace(parts[0])
	if len(parts) < 2 {
		return line1, "", ""
	}
	rest := strings.Fields(strings.TrimSpace(parts[1]))
	if len(rest) == 0 {
		return line1, "", ""
	}
	postcode = rest[len(rest)-1]
	suburb = strings.Join(rest[:len(rest)-1], " ")
	return line1, suburb, postcode
}

func absoluteURL(href string) string {
	if strings.HasPrefix(href, "http") {
		return href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	return "https://www.portal-d.example.com.au" + u.Path
}

func classifyPropertyType(s string) models.PropertyType {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.Contains(s, "apartment") || strings.Contains(s, "unit"):
		return models.PropertyTypeApartment
	case strings.Contains(s, "studio"):
		return models.PropertyTypeStudio
	case strings.Contains(s, "semi"):
		return models.PropertyTypeSemiDetached
	case strings.Contains(s, "townhouse"):
		return models.PropertyTypeTownhouse
	case strings.Contains(s, "villa"):
		return models.PropertyTypeVilla
	case strings.Contains(s, "duplex"):
		return models.PropertyTypeDuplex
	case strings.Contains(s, "terrace"):
		return models.PropertyTypeTerrace
	case strings.Contains(s, "house"):
		return models.PropertyTypeHouse
	default:
		return models.PropertyTypeOther
	}
}
