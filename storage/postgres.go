package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"batdongsan-etl/models"
	"batdongsan-etl/utils"
)

const insertBatchSize = 200

// stagingColumns is the column order used for every staging write.
var stagingColumns = []string{
	"unique_id", "title", "link", "bedrooms", "toilets", "location",
	"description", "agent_name", "phone", "price", "area", "price_per_m2",
	"real_estate_type", "project", "time_scraped",
}

// PostgresStore persists the staged warehouse model to PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	logger *utils.Logger
}

// NewPostgresStore opens a connection to PostgreSQL, runs schema migrations,
// and returns a ready-to-use store.
func NewPostgresStore(dsn string, logger *utils.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	s := &PostgresStore{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE SCHEMA IF NOT EXISTS staging;
		CREATE SCHEMA IF NOT EXISTS real_estate;

		CREATE TABLE IF NOT EXISTS staging.real_estate (
			unique_id        TEXT        NOT NULL,
			title            TEXT,
			link             TEXT,
			bedrooms         BIGINT      NOT NULL DEFAULT 0,
			toilets          BIGINT      NOT NULL DEFAULT 0,
			location         TEXT,
			description      TEXT,
			agent_name       TEXT,
			phone            TEXT,
			price            BIGINT      NOT NULL DEFAULT 0,
			area             DOUBLE PRECISION,
			price_per_m2     DOUBLE PRECISION,
			real_estate_type TEXT,
			project          TEXT,
			time_scraped     TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS real_estate.re_project (
			id           SERIAL PRIMARY KEY,
			project_name TEXT UNIQUE NOT NULL
		);

		CREATE TABLE IF NOT EXISTS real_estate.re_real_estate_type (
			id               SERIAL PRIMARY KEY,
			real_estate_type TEXT UNIQUE NOT NULL
		);

		CREATE TABLE IF NOT EXISTS real_estate.re_loc_city (
			id   SERIAL PRIMARY KEY,
			city TEXT UNIQUE NOT NULL
		);

		CREATE TABLE IF NOT EXISTS real_estate.re_loc_district (
			id       SERIAL PRIMARY KEY,
			district TEXT    NOT NULL,
			city_id  INTEGER NOT NULL REFERENCES real_estate.re_loc_city(id),
			UNIQUE (district, city_id)
		);

		CREATE TABLE IF NOT EXISTS real_estate.re_real_estate (
			id           TEXT PRIMARY KEY,
			re_type_id   INTEGER REFERENCES real_estate.re_real_estate_type(id),
			project_id   INTEGER REFERENCES real_estate.re_project(id),
			district_id  INTEGER REFERENCES real_estate.re_loc_district(id),
			title        TEXT,
			link         TEXT,
			bedrooms     BIGINT NOT NULL DEFAULT 0,
			toilets      BIGINT NOT NULL DEFAULT 0,
			description  TEXT,
			agent_name   TEXT,
			price        BIGINT NOT NULL DEFAULT 0,
			area         DOUBLE PRECISION,
			price_per_m2 DOUBLE PRECISION,
			time_scraped TIMESTAMPTZ NOT NULL
		);
	`)
	return err
}

// ReplaceStaging truncates and reloads staging.real_estate in a single
// transaction. Duplicate unique_ids keep their first occurrence; rows with
// an empty location are dropped because downstream city/district derivation
// and the fact table require it.
func (s *PostgresStore) ReplaceStaging(records []*models.StagingRecord) (models.StagingReport, error) {
	report := models.StagingReport{}
	seen := make(map[string]struct{}, len(records))
	batch := make([]*models.StagingRecord, 0, len(records))

	for _, r := range records {
		if r.Location == "" {
			report.MissingLocation++
			continue
		}
		if _, dup := seen[r.UniqueID]; dup {
			s.logger.Warn("[staging] Duplicate unique_id %s dropped: %s", r.UniqueID, r.Link)
			report.DuplicateIDs++
			continue
		}
		seen[r.UniqueID] = struct{}{}
		batch = append(batch, r)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return report, fmt.Errorf("staging: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM staging.real_estate"); err != nil {
		return report, fmt.Errorf("staging: clear: %w", err)
	}

	for start := 0; start < len(batch); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(batch) {
			end = len(batch)
		}
		if err := insertStagingBatch(tx, batch[start:end]); err != nil {
			return report, err
		}
	}

	if err := tx.Commit(); err != nil {
		return report, fmt.Errorf("staging: commit: %w", err)
	}

	report.Written = len(batch)
	return report, nil
}

func insertStagingBatch(tx *sql.Tx, batch []*models.StagingRecord) error {
	nCols := len(stagingColumns)
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]interface{}, 0, len(batch)*nCols)

	for idx, r := range batch {
		placeholders := make([]string, nCols)
		for c := 0; c < nCols; c++ {
			placeholders[c] = fmt.Sprintf("$%d", idx*nCols+c+1)
		}
		valueStrings = append(valueStrings, "("+strings.Join(placeholders, ",")+")")
		valueArgs = append(valueArgs,
			r.UniqueID, r.Title, r.Link, r.Bedrooms, r.Toilets, r.Location,
			r.Description, r.AgentName, r.Phone, r.Price, r.Area, r.PricePerM2,
			r.RealEstateType, r.Project, r.TimeScraped)
	}

	query := fmt.Sprintf("INSERT INTO staging.real_estate (%s) VALUES %s",
		strings.Join(stagingColumns, ", "), strings.Join(valueStrings, ","))
	if _, err := tx.Exec(query, valueArgs...); err != nil {
		return fmt.Errorf("staging: insert batch: %w", err)
	}
	return nil
}

// FetchStaging retrieves the current staging batch.
func (s *PostgresStore) FetchStaging() ([]*models.StagingRecord, error) {
	rows, err := s.db.Query(fmt.Sprintf(
		"SELECT %s FROM staging.real_estate", strings.Join(stagingColumns, ", ")))
	if err != nil {
		return nil, fmt.Errorf("staging: fetch: %w", err)
	}
	defer rows.Close()

	var records []*models.StagingRecord
	for rows.Next() {
		r := &models.StagingRecord{}
		var area, ppm2 sql.NullFloat64
		var project sql.NullString
		if err := rows.Scan(
			&r.UniqueID, &r.Title, &r.Link, &r.Bedrooms, &r.Toilets, &r.Location,
			&r.Description, &r.AgentName, &r.Phone, &r.Price, &area, &ppm2,
			&r.RealEstateType, &project, &r.TimeScraped,
		); err != nil {
			return nil, fmt.Errorf("staging: scan: %w", err)
		}
		if area.Valid {
			r.Area = &area.Float64
		}
		if ppm2.Valid {
			r.PricePerM2 = &ppm2.Float64
		}
		if project.Valid && project.String != "" {
			r.Project = &project.String
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// ReconcileProjects inserts project names present in staging but absent
// from the dimension. Existing rows are never updated or deleted.
func (s *PostgresStore) ReconcileProjects() (int, error) {
	return s.insertMissing("real_estate.re_project", "project_name", "project")
}

// ReconcileTypes does the same for real-estate type categories.
func (s *PostgresStore) ReconcileTypes() (int, error) {
	return s.insertMissing("real_estate.re_real_estate_type", "real_estate_type", "real_estate_type")
}

// insertMissing runs the set-difference insert for one dimension inside a
// transaction, counting rows before and after to report the delta.
func (s *PostgresStore) insertMissing(dimTable, dimColumn, stagingColumn string) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("dimension %s: begin: %w", dimTable, err)
	}
	defer tx.Rollback()

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s", dimTable)
	var before, after int
	if err := tx.QueryRow(countQuery).Scan(&before); err != nil {
		return 0, fmt.Errorf("dimension %s: count: %w", dimTable, err)
	}

	insert := fmt.Sprintf(`
		INSERT INTO %s (%s)
		SELECT DISTINCT %s FROM staging.real_estate
		WHERE %s IS NOT NULL AND %s <> ''
		ON CONFLICT (%s) DO NOTHING
	`, dimTable, dimColumn, stagingColumn, stagingColumn, stagingColumn, dimColumn)
	if _, err := tx.Exec(insert); err != nil {
		return 0, fmt.Errorf("dimension %s: insert: %w", dimTable, err)
	}

	if err := tx.QueryRow(countQuery).Scan(&after); err != nil {
		return 0, fmt.Errorf("dimension %s: recount: %w", dimTable, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("dimension %s: commit: %w", dimTable, err)
	}

	s.logger.Info("[dimension] %s [%d -> %d]: inserted %d new rows", dimTable, before, after, after-before)
	return after - before, nil
}

// InsertCities adds new city values with a conflict-ignore insert.
func (s *PostgresStore) InsertCities(cities []string) (int, error) {
	if len(cities) == 0 {
		return 0, nil
	}
	valueStrings := make([]string, len(cities))
	valueArgs := make([]interface{}, len(cities))
	for i, c := range cities {
		valueStrings[i] = fmt.Sprintf("($%d)", i+1)
		valueArgs[i] = c
	}
	res, err := s.db.Exec(fmt.Sprintf(`
		INSERT INTO real_estate.re_loc_city (city) VALUES %s
		ON CONFLICT (city) DO NOTHING
	`, strings.Join(valueStrings, ",")), valueArgs...)
	if err != nil {
		return 0, fmt.Errorf("dimension re_loc_city: insert: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// InsertDistricts adds new (district, city_id) pairs with a
// conflict-ignore insert.
func (s *PostgresStore) InsertDistricts(keys []models.DistrictKey) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	valueStrings := make([]string, len(keys))
	valueArgs := make([]interface{}, 0, len(keys)*2)
	for i, k := range keys {
		valueStrings[i] = fmt.Sprintf("($%d,$%d)", i*2+1, i*2+2)
		valueArgs = append(valueArgs, k.District, k.CityID)
	}
	res, err := s.db.Exec(fmt.Sprintf(`
		INSERT INTO real_estate.re_loc_district (district, city_id) VALUES %s
		ON CONFLICT (district, city_id) DO NOTHING
	`, strings.Join(valueStrings, ",")), valueArgs...)
	if err != nil {
		return 0, fmt.Errorf("dimension re_loc_district: insert: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CityIDs returns the city → surrogate id map.
func (s *PostgresStore) CityIDs() (map[string]int64, error) {
	return s.fetchIDMap("SELECT city, id FROM real_estate.re_loc_city")
}

// TypeIDs returns the real-estate type → surrogate id map.
func (s *PostgresStore) TypeIDs() (map[string]int64, error) {
	return s.fetchIDMap("SELECT real_estate_type, id FROM real_estate.re_real_estate_type")
}

// ProjectIDs returns the project name → surrogate id map.
func (s *PostgresStore) ProjectIDs() (map[string]int64, error) {
	return s.fetchIDMap("SELECT project_name, id FROM real_estate.re_project")
}

func (s *PostgresStore) fetchIDMap(query string) (map[string]int64, error) {
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("dimension lookup: %w", err)
	}
	defer rows.Close()

	m := make(map[string]int64)
	for rows.Next() {
		var value string
		var id int64
		if err := rows.Scan(&value, &id); err != nil {
			return nil, fmt.Errorf("dimension lookup scan: %w", err)
		}
		m[value] = id
	}
	return m, rows.Err()
}

// DistrictIDs returns the (district, city_id) → surrogate id map.
func (s *PostgresStore) DistrictIDs() (map[models.DistrictKey]int64, error) {
	rows, err := s.db.Query("SELECT district, city_id, id FROM real_estate.re_loc_district")
	if err != nil {
		return nil, fmt.Errorf("dimension re_loc_district lookup: %w", err)
	}
	defer rows.Close()

	m := make(map[models.DistrictKey]int64)
	for rows.Next() {
		var k models.DistrictKey
		var id int64
		if err := rows.Scan(&k.District, &k.CityID, &id); err != nil {
			return nil, fmt.Errorf("dimension re_loc_district scan: %w", err)
		}
		m[k] = id
	}
	return m, rows.Err()
}

// factColumns is the column order for fact upserts; id is the conflict key.
var factColumns = []string{
	"id", "re_type_id", "project_id", "district_id", "title", "link",
	"bedrooms", "toilets", "description", "agent_name", "price", "area",
	"price_per_m2", "time_scraped",
}

// UpsertFacts writes the batch into real_estate.re_real_estate through the
// generic change-detection upsert.
func (s *PostgresStore) UpsertFacts(facts []*models.FactRow) (models.UpsertResult, error) {
	rows := make([][]interface{}, 0, len(facts))
	for _, f := range facts {
		rows = append(rows, []interface{}{
			f.ID, f.ReTypeID, f.ProjectID, f.DistrictID, f.Title, f.Link,
			f.Bedrooms, f.Toilets, f.Description, f.AgentName, f.Price, f.Area,
			f.PricePerM2, f.TimeScraped,
		})
	}
	return s.Upsert("real_estate.re_real_estate", factColumns, []string{"id"}, rows)
}

// FetchFacts retrieves all fact rows for quality checks.
func (s *PostgresStore) FetchFacts() ([]*models.FactRow, error) {
	rows, err := s.db.Query(fmt.Sprintf(
		"SELECT %s FROM real_estate.re_real_estate ORDER BY id", strings.Join(factColumns, ", ")))
	if err != nil {
		return nil, fmt.Errorf("fact: fetch: %w", err)
	}
	defer rows.Close()

	var facts []*models.FactRow
	for rows.Next() {
		f := &models.FactRow{}
		var typeID, projectID, districtID sql.NullInt64
		var area, ppm2 sql.NullFloat64
		if err := rows.Scan(
			&f.ID, &typeID, &projectID, &districtID, &f.Title, &f.Link,
			&f.Bedrooms, &f.Toilets, &f.Description, &f.AgentName, &f.Price,
			&area, &ppm2, &f.TimeScraped,
		); err != nil {
			return nil, fmt.Errorf("fact: scan: %w", err)
		}
		if typeID.Valid {
			f.ReTypeID = &typeID.Int64
		}
		if projectID.Valid {
			f.ProjectID = &projectID.Int64
		}
		if districtID.Valid {
			f.DistrictID = &districtID.Int64
		}
		if area.Valid {
			f.Area = &area.Float64
		}
		if ppm2.Valid {
			f.PricePerM2 = &ppm2.Float64
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
