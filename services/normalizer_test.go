package services

import (
	"math"
	"testing"
	"time"

	"batdongsan-etl/models"
	"batdongsan-etl/utils"
)

func newTestLogger() *utils.Logger { return utils.NewLogger() }

func TestNormalizerParsePrice(t *testing.T) {
	n := NewNormalizer(newTestLogger())

	tests := []struct {
		raw    string
		want   int64
		wantOK bool
	}{
		{"2,5 tỷ", 2500, true},
		{"800 triệu", 800, true},
		{"1,2 tỷ", 1200, true},
		{"3 tỷ", 3000, true},
		{"abc", 0, false},
		{"", 0, false},
		{"Thỏa thuận", 0, false},
		{"tỷ", 0, false},
	}

	for _, tt := range tests {
		got, ok := n.parsePrice(tt.raw)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("parsePrice(%q) = (%d, %v); want (%d, %v)", tt.raw, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestNormalizerParseArea(t *testing.T) {
	n := NewNormalizer(newTestLogger())

	tests := []struct {
		raw  string
		want *float64
	}{
		{"76.5 m²", f(76.5)},
		{"76,5 m²", f(76.5)},
		{"120 m²", f(120)},
		{"no unit here", nil},
		{"", nil},
	}

	for _, tt := range tests {
		got := n.parseArea(tt.raw)
		if (got == nil) != (tt.want == nil) {
			t.Errorf("parseArea(%q) = %v; want %v", tt.raw, got, tt.want)
			continue
		}
		if got != nil && *got != *tt.want {
			t.Errorf("parseArea(%q) = %f; want %f", tt.raw, *got, *tt.want)
		}
	}
}

func TestStandardizeType(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"ban-can-ho-chung-cu", "căn hộ chung cư"},
		{"ban-nha-rieng", "nhà riêng"},
		{"ban-nha-mat-pho", "nhà mặt phố"},
		{"ban-shophouse-nha-pho-thuong-mai", "shophouse nhà phố thương mại"},
		{"ban-nha-biet-thu-lien-ke", "nhà biệt thự liền kề"},
		{"  Ban-Nha-Mat-Pho  ", "nhà mặt phố"},
		{"something-else", "something-else"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := standardizeType(tt.raw); got != tt.want {
			t.Errorf("standardizeType(%q) = %q; want %q", tt.raw, got, tt.want)
		}
	}
}

func TestExtractRealEstateType(t *testing.T) {
	tests := []struct {
		link string
		want string
	}{
		{
			"https://batdongsan.com.vn/ban-can-ho-chung-cu-duong-nguyen-huu-tho-phuong-tan-hung-1234567890",
			"ban-can-ho-chung-cu",
		},
		{
			// -phuong- occurs before -duong-; position in the URL decides.
			"https://batdongsan.com.vn/ban-nha-rieng-phuong-5-duong-le-loi-abc",
			"ban-nha-rieng",
		},
		{
			// The earliest "-pho-" cuts inside "mat-pho"; the synonym table
			// later maps the truncated token back to the canonical label.
			"https://batdongsan.com.vn/ban-nha-mat-pho-pho-hue-xyz",
			"ban-nha-mat",
		},
		{"https://batdongsan.com.vn/no-separator-here", ""},
	}

	for _, tt := range tests {
		if got := extractRealEstateType(tt.link); got != tt.want {
			t.Errorf("extractRealEstateType(%q) = %q; want %q", tt.link, got, tt.want)
		}
	}
}

func TestExtractProject(t *testing.T) {
	link := "https://batdongsan.com.vn/ban-can-ho-chung-cu-duong-x-prj-sunrise-city/ad-123"
	got := extractProject(link)
	if got == nil || *got != "sunrise-city" {
		t.Errorf("extractProject = %v; want sunrise-city", got)
	}

	if got := extractProject("https://batdongsan.com.vn/ban-nha-rieng-duong-y"); got != nil {
		t.Errorf("expected nil project for link without marker, got %q", *got)
	}
}

func TestUniqueIDLastTenCharacters(t *testing.T) {
	link := "https://batdongsan.com.vn/ban-can-ho-pr38812345"
	if got := uniqueID(link); got != "pr38812345" {
		t.Errorf("uniqueID = %q; want pr38812345", got)
	}
	if got := uniqueID("short"); got != "short" {
		t.Errorf("uniqueID(short) = %q; want short", got)
	}
}

func TestSplitLocation(t *testing.T) {
	tests := []struct {
		location     string
		wantDistrict string
		wantCity     string
	}{
		{"Quận 7, Hồ Chí Minh", "Quận 7", "Hồ Chí Minh"},
		{"Nhà Bè, TP Hồ Chí Minh, Việt Nam", "Nhà Bè", "TP Hồ Chí Minh, Việt Nam"},
		{"Hồ Chí Minh", "Hồ Chí Minh", ""},
		{"", "", ""},
	}

	for _, tt := range tests {
		district, city := SplitLocation(tt.location)
		if district != tt.wantDistrict || city != tt.wantCity {
			t.Errorf("SplitLocation(%q) = (%q, %q); want (%q, %q)",
				tt.location, district, city, tt.wantDistrict, tt.wantCity)
		}
	}
}

func TestNormalizeDerivedPricePerM2(t *testing.T) {
	n := NewNormalizer(newTestLogger())
	raw := []*models.RawListing{
		{
			Title:    "Căn hộ 2PN",
			Link:     "./ban-can-ho-chung-cu-duong-a-phuong-b-prj-c/pr38812345",
			RawPrice: "2,5 tỷ",
			RawArea:  "76.5 m²",
			Location: "Quận 7, Hồ Chí Minh",
		},
	}

	records := n.Normalize(raw, time.Now())
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	r := records[0]

	if r.Price != 2500 {
		t.Errorf("price = %d; want 2500", r.Price)
	}
	if r.Area == nil || *r.Area != 76.5 {
		t.Fatalf("area = %v; want 76.5", r.Area)
	}
	if r.PricePerM2 == nil || math.Abs(*r.PricePerM2-32.68) > 0.01 {
		t.Errorf("price_per_m2 = %v; want ≈32.68", r.PricePerM2)
	}
	if r.UniqueID != "pr38812345" {
		t.Errorf("unique_id = %q; want pr38812345", r.UniqueID)
	}
	if r.RealEstateType != "căn hộ chung cư" {
		t.Errorf("real_estate_type = %q; want căn hộ chung cư", r.RealEstateType)
	}
	if r.Project == nil || *r.Project != "c" {
		t.Errorf("project = %v; want c", r.Project)
	}
}

func TestNormalizeNullsAndDefaults(t *testing.T) {
	n := NewNormalizer(newTestLogger())
	raw := []*models.RawListing{
		{
			Title:    "No price, no area",
			Link:     "./ban-nha-rieng-duong-x/pr00000001",
			RawPrice: "Thỏa thuận",
			Location: "Quận 1, Hồ Chí Minh",
		},
	}

	records := n.Normalize(raw, time.Now())
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	r := records[0]

	if r.Price != 0 || r.Bedrooms != 0 || r.Toilets != 0 {
		t.Errorf("numeric defaults: price=%d bedrooms=%d toilets=%d; want all 0",
			r.Price, r.Bedrooms, r.Toilets)
	}
	if r.Area != nil {
		t.Errorf("area = %v; want nil", r.Area)
	}
	if r.PricePerM2 != nil {
		t.Errorf("price_per_m2 = %v; want nil when either input is missing", r.PricePerM2)
	}
}

func TestNormalizeDropsEmptyLink(t *testing.T) {
	n := NewNormalizer(newTestLogger())
	raw := []*models.RawListing{
		{Title: "No link"},
		{Title: "Has link", Link: "./ban-nha-rieng-duong-x/pr00000002", Location: "Quận 1, HCM"},
	}

	records := n.Normalize(raw, time.Now())
	if len(records) != 1 {
		t.Errorf("expected 1 record after dropping empty link, got %d", len(records))
	}
}

func TestNormalizeUniformUTCTimestamp(t *testing.T) {
	n := NewNormalizer(newTestLogger())
	captured := time.Date(2026, 1, 31, 10, 0, 0, 0, time.FixedZone("ICT", 7*3600))
	raw := []*models.RawListing{
		{Link: "./ban-nha-rieng-duong-x/pr00000003", Location: "Quận 1, HCM"},
		{Link: "./ban-nha-rieng-duong-y/pr00000004", Location: "Quận 2, HCM"},
	}

	records := n.Normalize(raw, captured)
	want := captured.UTC()
	for _, r := range records {
		if !r.TimeScraped.Equal(want) || r.TimeScraped.Location() != time.UTC {
			t.Errorf("time_scraped = %v; want uniform %v in UTC", r.TimeScraped, want)
		}
	}
}

func f(v float64) *float64 { return &v }
