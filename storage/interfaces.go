package storage

import "batdongsan-etl/models"

// Store is the warehouse surface the pipeline runs against.
type Store interface {
	// ReplaceStaging swaps the full contents of staging.real_estate for the
	// given batch inside one transaction, deduplicating by unique_id
	// (first occurrence wins) and dropping rows without a location.
	ReplaceStaging(records []*models.StagingRecord) (models.StagingReport, error)
	// FetchStaging returns the current staging batch.
	FetchStaging() ([]*models.StagingRecord, error)

	// ReconcileProjects / ReconcileTypes insert staging values missing from
	// the dimension (set difference on the natural key) and return the
	// number of newly inserted rows. Existing rows are never touched.
	ReconcileProjects() (int, error)
	ReconcileTypes() (int, error)

	// InsertCities / InsertDistricts are conflict-ignore inserts for the
	// location dimensions; both return the inserted-row count.
	InsertCities(cities []string) (int, error)
	InsertDistricts(keys []models.DistrictKey) (int, error)

	// Natural-value → surrogate-id lookups used for fact FK resolution.
	CityIDs() (map[string]int64, error)
	DistrictIDs() (map[models.DistrictKey]int64, error)
	TypeIDs() (map[string]int64, error)
	ProjectIDs() (map[string]int64, error)

	// UpsertFacts writes fact rows keyed by id, updating only rows whose
	// content actually changed.
	UpsertFacts(rows []*models.FactRow) (models.UpsertResult, error)
	// FetchFacts returns the full fact table for quality checks.
	FetchFacts() ([]*models.FactRow, error)

	Close() error
}

// RawListingWriter is the interface for persisting unprocessed scraped data.
type RawListingWriter interface {
	WriteRaw(listings []*models.RawListing) error
	Close() error
}
