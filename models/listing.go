package models

import "time"

// RawListing holds unprocessed scraped data directly from the browser.
// Missing card elements come through as empty strings, never as errors.
type RawListing struct {
	Title       string
	Link        string
	RawPrice    string
	RawArea     string
	RawBedrooms string
	RawToilets  string
	Location    string
	Description string
	AgentName   string
	Phone       string
	ImageURLs   []string
	ScrapedAt   time.Time
}

// StagingRecord is the cleaned, typed record written to staging.real_estate.
// Bedrooms, Toilets and Price default to 0 when the raw value is missing or
// unparseable; Area, PricePerM2 and Project stay nullable.
type StagingRecord struct {
	UniqueID       string
	Title          string
	Link           string
	Bedrooms       int64
	Toilets        int64
	Location       string
	Description    string
	AgentName      string
	Phone          string
	Price          int64
	Area           *float64
	PricePerM2     *float64
	RealEstateType string
	Project        *string
	TimeScraped    time.Time
}

// DistrictKey is the natural key of the district dimension.
type DistrictKey struct {
	District string
	CityID   int64
}

// FactRow is one row of real_estate.re_real_estate after foreign-key
// resolution. A nil FK means the dimension lookup did not resolve.
type FactRow struct {
	ID          string
	ReTypeID    *int64
	ProjectID   *int64
	DistrictID  *int64
	Title       string
	Link        string
	Bedrooms    int64
	Toilets     int64
	Description string
	AgentName   string
	Price       int64
	Area        *float64
	PricePerM2  *float64
	TimeScraped time.Time
}

// UpsertResult is the three-way outcome of one upsert invocation.
type UpsertResult struct {
	Inserted  int
	Updated   int
	Untouched int
}

// Attempted returns how many rows the upsert was asked to write.
func (r UpsertResult) Attempted() int {
	return r.Inserted + r.Updated + r.Untouched
}

// StagingReport describes what happened during one staging replace.
type StagingReport struct {
	Written         int
	DuplicateIDs    int
	MissingLocation int
}

// QualityReport holds the computed checks over the fact table.
type QualityReport struct {
	TotalRows       int
	MissingType     int
	MissingProject  int
	MissingDistrict int
	ZeroPrice       int
	AveragePrice    float64
	MinPrice        int64
	MaxPrice        int64
	TypeCounts      map[string]int
}
