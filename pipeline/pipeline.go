package pipeline

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"batdongsan-etl/models"
	"batdongsan-etl/services"
	"batdongsan-etl/storage"
	"batdongsan-etl/utils"
)

// placeholderDistrict is the literal the source site uses for an unknown
// district; it is never inserted into the district dimension.
const placeholderDistrict = "·"

// Pipeline runs the staged warehouse flow: staging replace, dimension
// reconciliation fan-out, fact reconciliation fan-in. A step that fails
// aborts the run; later steps are not attempted.
type Pipeline struct {
	store  storage.Store
	logger *utils.Logger
	runID  string
}

// New creates a Pipeline over the given store.
func New(store storage.Store, logger *utils.Logger) *Pipeline {
	return &Pipeline{
		store:  store,
		logger: logger,
		runID:  uuid.NewString(),
	}
}

// Stage replaces the staging table with the batch.
func (p *Pipeline) Stage(records []*models.StagingRecord) (models.StagingReport, error) {
	report, err := p.store.ReplaceStaging(records)
	if err != nil {
		return report, fmt.Errorf("staging step: %w", err)
	}
	p.logger.Info("[pipeline %s] Staging replaced: %d written, %d duplicate ids dropped, %d rows without location filtered",
		p.runID, report.Written, report.DuplicateIDs, report.MissingLocation)
	return report, nil
}

// ReconcileDimensions brings the four dimension tables up to date with the
// staging batch. Project, type and city are independent and run
// concurrently; district needs the city ids and runs after city.
func (p *Pipeline) ReconcileDimensions() error {
	staged, err := p.store.FetchStaging()
	if err != nil {
		return fmt.Errorf("dimension step: %w", err)
	}
	cities, districts := locationValues(staged)

	pool := utils.NewWorkerPool(3, 0)
	var mu sync.Mutex
	var firstErr error
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	pool.Submit(func() {
		n, err := p.store.ReconcileProjects()
		if err != nil {
			fail(fmt.Errorf("project dimension: %w", err))
			return
		}
		p.logger.Info("[pipeline %s] re_project: %d new rows", p.runID, n)
	})
	pool.Submit(func() {
		n, err := p.store.ReconcileTypes()
		if err != nil {
			fail(fmt.Errorf("type dimension: %w", err))
			return
		}
		p.logger.Info("[pipeline %s] re_real_estate_type: %d new rows", p.runID, n)
	})
	pool.Submit(func() {
		n, err := p.store.InsertCities(cities)
		if err != nil {
			fail(fmt.Errorf("city dimension: %w", err))
			return
		}
		p.logger.Info("[pipeline %s] re_loc_city: %d new rows", p.runID, n)
	})
	pool.Wait()

	if firstErr != nil {
		return fmt.Errorf("dimension step: %w", firstErr)
	}

	// District depends on the city surrogate ids just written.
	cityIDs, err := p.store.CityIDs()
	if err != nil {
		return fmt.Errorf("dimension step: city lookup: %w", err)
	}

	keys := make([]models.DistrictKey, 0, len(districts))
	seen := make(map[models.DistrictKey]struct{}, len(districts))
	unresolvedCity := 0
	for _, d := range districts {
		if d.district == placeholderDistrict {
			continue
		}
		cityID, ok := cityIDs[d.city]
		if !ok {
			unresolvedCity++
			continue
		}
		key := models.DistrictKey{District: d.district, CityID: cityID}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}

	n, err := p.store.InsertDistricts(keys)
	if err != nil {
		return fmt.Errorf("district dimension: %w", err)
	}
	p.logger.Info("[pipeline %s] re_loc_district: %d new rows (%d districts with unresolved city skipped)",
		p.runID, n, unresolvedCity)
	return nil
}

// ReconcileFacts resolves staging rows against the four dimensions and
// upserts the fact table keyed by id. Unresolved lookups become null
// foreign keys; they are counted, never fatal.
func (p *Pipeline) ReconcileFacts() (models.UpsertResult, error) {
	staged, err := p.store.FetchStaging()
	if err != nil {
		return models.UpsertResult{}, fmt.Errorf("fact step: %w", err)
	}

	typeIDs, err := p.store.TypeIDs()
	if err != nil {
		return models.UpsertResult{}, fmt.Errorf("fact step: type lookup: %w", err)
	}
	projectIDs, err := p.store.ProjectIDs()
	if err != nil {
		return models.UpsertResult{}, fmt.Errorf("fact step: project lookup: %w", err)
	}
	cityIDs, err := p.store.CityIDs()
	if err != nil {
		return models.UpsertResult{}, fmt.Errorf("fact step: city lookup: %w", err)
	}
	districtIDs, err := p.store.DistrictIDs()
	if err != nil {
		return models.UpsertResult{}, fmt.Errorf("fact step: district lookup: %w", err)
	}

	facts := make([]*models.FactRow, 0, len(staged))
	gaps := struct{ types, projects, districts int }{}

	for _, r := range staged {
		f := &models.FactRow{
			ID:          r.UniqueID,
			Title:       r.Title,
			Link:        r.Link,
			Bedrooms:    r.Bedrooms,
			Toilets:     r.Toilets,
			Description: r.Description,
			AgentName:   r.AgentName,
			Price:       r.Price,
			Area:        r.Area,
			PricePerM2:  r.PricePerM2,
			TimeScraped: r.TimeScraped,
		}

		if id, ok := typeIDs[r.RealEstateType]; ok {
			f.ReTypeID = &id
		} else {
			gaps.types++
		}

		if r.Project != nil {
			if id, ok := projectIDs[*r.Project]; ok {
				f.ProjectID = &id
			} else {
				gaps.projects++
			}
		}

		district, city := services.SplitLocation(r.Location)
		resolved := false
		if cityID, ok := cityIDs[city]; ok {
			if id, ok := districtIDs[models.DistrictKey{District: district, CityID: cityID}]; ok {
				f.DistrictID = &id
				resolved = true
			}
		}
		if !resolved {
			gaps.districts++
		}

		facts = append(facts, f)
	}

	result, err := p.store.UpsertFacts(facts)
	if err != nil {
		return result, fmt.Errorf("fact step: %w", err)
	}
	p.logger.Info("[pipeline %s] re_real_estate: %d new, %d updated, %d unchanged (attempted %d)",
		p.runID, result.Inserted, result.Updated, result.Untouched, result.Attempted())
	p.logger.Info("[pipeline %s] unresolved lookups: type %d, project %d, district %d",
		p.runID, gaps.types, gaps.projects, gaps.districts)
	return result, nil
}

// Run executes the full flow for one normalized batch.
func (p *Pipeline) Run(records []*models.StagingRecord) error {
	if _, err := p.Stage(records); err != nil {
		return err
	}
	if err := p.ReconcileDimensions(); err != nil {
		return err
	}
	if _, err := p.ReconcileFacts(); err != nil {
		return err
	}
	return nil
}

type locationPair struct {
	district string
	city     string
}

// locationValues derives the unique city values and (district, city) pairs
// from the staging batch. Rows whose location has no comma yield no city
// and are excluded here; they still flow to the fact table with null
// location foreign keys.
func locationValues(staged []*models.StagingRecord) ([]string, []locationPair) {
	citySet := make(map[string]struct{})
	pairSet := make(map[locationPair]struct{})

	var cities []string
	var pairs []locationPair
	for _, r := range staged {
		district, city := services.SplitLocation(r.Location)
		if city == "" {
			continue
		}
		if _, ok := citySet[city]; !ok {
			citySet[city] = struct{}{}
			cities = append(cities, city)
		}
		pair := locationPair{district: district, city: city}
		if district != "" {
			if _, ok := pairSet[pair]; !ok {
				pairSet[pair] = struct{}{}
				pairs = append(pairs, pair)
			}
		}
	}
	return cities, pairs
}
