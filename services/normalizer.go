package services

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"batdongsan-etl/models"
	"batdongsan-etl/utils"
)

const siteBaseURL = "https://batdongsan.com.vn"

var (
	// priceRegexp captures "<number><unit>" after comma/space cleanup, e.g. "2.5tỷ"
	priceRegexp = regexp.MustCompile(`^([0-9.]+)(tỷ|triệu)`)
	// areaRegexp captures the first decimal number preceding the "m" unit marker
	areaRegexp = regexp.MustCompile(`([0-9.]+)\s*m`)
	// intRegexp captures the first integer in a bedroom/toilet string
	intRegexp = regexp.MustCompile(`\d+`)
)

// typeSeparators are the path tokens that split the category part of a
// listing link from the street/ward part. The separator occurring
// earliest in the link wins.
var typeSeparators = []string{"-pho-", "-phuong-", "-duong-"}

// typeWhitelist is checked in order; the first token contained in the
// normalized category wins. Values with no match are kept verbatim.
var typeWhitelist = []string{
	"Căn hộ chung cư",
	"Nhà mặt phố",
	"Nhà riêng",
	"can-ho-chung-cu",
	"ban-nha-biet-thu-lien-ke",
	"nha-rieng",
	"ban-nha-mat-pho",
	"ban-shophouse-nha-pho-thuong-mai",
	"ban-nha-rieng",
	"ban-can-ho-chung-cu",
}

// typeSynonyms collapses whitelist tokens onto canonical display labels.
var typeSynonyms = map[string]string{
	"nhà riêng":                        "nhà riêng",
	"căn hộ chung cư":                  "căn hộ chung cư",
	"nhà mặt phố":                      "nhà mặt phố",
	"ban-nha-biet-thu-lien-ke":         "nhà biệt thự liền kề",
	"nha-rieng":                        "nhà riêng",
	"ban-nha-mat":                      "nhà mặt phố",
	"ban-nha-mat-pho":                  "nhà mặt phố",
	"ban-shophouse-nha-pho-thuong-mai": "shophouse nhà phố thương mại",
	"ban-shophouse-nha":                "shophouse nhà phố thương mại",
	"can-ho-chung-cu":                  "căn hộ chung cư",
}

// Normalizer transforms RawListings into typed StagingRecords.
type Normalizer struct {
	logger *utils.Logger
}

// NewNormalizer creates a Normalizer with the given logger.
func NewNormalizer(logger *utils.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Normalize processes raw listings into staging records. Listings with an
// empty link are dropped; every other parse failure degrades to a default
// or null field. The whole batch gets one UTC capture timestamp.
func (n *Normalizer) Normalize(raw []*models.RawListing, capturedAt time.Time) []*models.StagingRecord {
	capturedAt = capturedAt.UTC()
	result := make([]*models.StagingRecord, 0, len(raw))

	for _, r := range raw {
		link := normalizeLink(r.Link)
		if link == "" {
			n.logger.Warn("[normalizer] Dropping listing with empty link: %s", r.Title)
			continue
		}

		price, priceOK := n.parsePrice(r.RawPrice)
		area := n.parseArea(r.RawArea)

		rec := &models.StagingRecord{
			UniqueID:       uniqueID(link),
			Title:          normalizeText(r.Title),
			Link:           link,
			Bedrooms:       parseCount(r.RawBedrooms),
			Toilets:        parseCount(r.RawToilets),
			Location:       normalizeText(r.Location),
			Description:    normalizeText(r.Description),
			AgentName:      normalizeText(r.AgentName),
			Phone:          strings.TrimSpace(r.Phone),
			RealEstateType: standardizeType(extractRealEstateType(link)),
			Project:        extractProject(link),
			TimeScraped:    capturedAt,
		}

		if priceOK {
			rec.Price = price
		}
		rec.Area = area
		if priceOK && area != nil && *area != 0 {
			v := float64(price) / *area
			rec.PricePerM2 = &v
		}

		result = append(result, rec)
	}

	n.logger.Info("[normalizer] Normalized %d raw listings into %d records (dropped %d)",
		len(raw), len(result), len(raw)-len(result))
	return result
}

// parsePrice converts a localized price string to the canonical unit
// (millions of VND). "tỷ" scales by 1000, "triệu" by 1. Unparseable
// strings report ok=false, never an error.
func (n *Normalizer) parsePrice(raw string) (int64, bool) {
	s := strings.ToLower(raw)
	s = strings.ReplaceAll(s, ",", ".")
	s = strings.ReplaceAll(s, " ", "")

	m := priceRegexp.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	value, err := decimal.NewFromString(m[1])
	if err != nil {
		return 0, false
	}
	if m[2] == "tỷ" {
		value = value.Mul(decimal.NewFromInt(1000))
	}
	return value.IntPart(), true
}

// parseArea extracts the square-meter figure, e.g. "76,5 m²" → 76.5.
func (n *Normalizer) parseArea(raw string) *float64 {
	s := strings.ReplaceAll(raw, ",", ".")
	m := areaRegexp.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil
	}
	return &v
}

// parseCount pulls the first integer out of a bedroom/toilet string,
// defaulting to 0.
func parseCount(raw string) int64 {
	m := intRegexp.FindString(raw)
	if m == "" {
		return 0
	}
	v, err := strconv.ParseInt(m, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// normalizeLink turns the relative card link into an absolute URL.
func normalizeLink(link string) string {
	link = strings.TrimSpace(link)
	if link == "" {
		return ""
	}
	link = strings.TrimPrefix(link, "./")
	if strings.HasPrefix(link, "http") {
		return link
	}
	if !strings.HasPrefix(link, "/") {
		link = "/" + link
	}
	return siteBaseURL + link
}

// uniqueID derives the staging natural key from the last 10 characters of
// the link. Distinct listings can collide; the staging writer keeps the
// first occurrence and logs the rest.
func uniqueID(link string) string {
	runes := []rune(link)
	if len(runes) <= 10 {
		return link
	}
	return string(runes[len(runes)-10:])
}

// extractRealEstateType returns the raw category token: the part of the
// link before the earliest-occurring separator, with the site prefix
// stripped. Links with no separator yield "".
func extractRealEstateType(link string) string {
	first := -1
	for _, sep := range typeSeparators {
		idx := strings.Index(link, sep)
		if idx == -1 {
			continue
		}
		if first == -1 || idx < first {
			first = idx
		}
	}
	if first == -1 {
		return ""
	}
	return strings.TrimPrefix(link[:first], siteBaseURL+"/")
}

// standardizeType maps a raw category onto its canonical display label:
// lowercase/trim, first whitelist token contained in the value wins, then
// an exact synonym lookup. Unknown values are kept verbatim.
func standardizeType(val string) string {
	x := strings.ToLower(strings.TrimSpace(val))
	for _, token := range typeWhitelist {
		if strings.Contains(x, token) {
			x = token
			break
		}
	}
	if canonical, ok := typeSynonyms[x]; ok {
		return canonical
	}
	return x
}

// extractProject returns the project slug between the "-prj-" marker and
// the next path separator, or nil when the marker is absent.
func extractProject(link string) *string {
	idx := strings.Index(link, "-prj-")
	if idx == -1 {
		return nil
	}
	rest := link[idx+len("-prj-"):]
	if slash := strings.Index(rest, "/"); slash >= 0 {
		rest = rest[:slash]
	}
	if rest == "" {
		return nil
	}
	return &rest
}

// SplitLocation splits free-text location at the first comma into
// (district, city), both trimmed. Without a comma the city is empty and
// the row is excluded from city/district reconciliation.
func SplitLocation(location string) (district, city string) {
	idx := strings.Index(location, ",")
	if idx == -1 {
		return strings.TrimSpace(location), ""
	}
	return strings.TrimSpace(location[:idx]), strings.TrimSpace(location[idx+1:])
}

// normalizeText strips leading/trailing whitespace and collapses internal
// whitespace.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
