package storage

import (
	"strings"
	"testing"
)

func TestBuildUpsertQueryPlaceholders(t *testing.T) {
	query := buildUpsertQuery("real_estate.re_real_estate",
		[]string{"id", "title", "price"}, []string{"id"}, 2)

	// Placeholders number across rows: row one uses $1..$3, row two $4..$6.
	if !strings.Contains(query, "($1,$2,$3),($4,$5,$6)") {
		t.Errorf("placeholder numbering wrong:\n%s", query)
	}
	if !strings.Contains(query, "INSERT INTO real_estate.re_real_estate AS t (id, title, price)") {
		t.Errorf("insert clause wrong:\n%s", query)
	}
}

func TestBuildUpsertQueryConflictKeyNotUpdated(t *testing.T) {
	query := buildUpsertQuery("real_estate.re_real_estate",
		[]string{"id", "title", "price"}, []string{"id"}, 1)

	if !strings.Contains(query, "ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, price = EXCLUDED.price") {
		t.Errorf("update clause wrong:\n%s", query)
	}
	if strings.Contains(query, "id = EXCLUDED.id") {
		t.Errorf("conflict key must not appear in the SET list:\n%s", query)
	}
}

func TestBuildUpsertQueryChangeDetection(t *testing.T) {
	query := buildUpsertQuery("t", []string{"id", "v"}, []string{"id"}, 1)

	if !strings.Contains(query, "WHERE (t.*) IS DISTINCT FROM (EXCLUDED.*)") {
		t.Errorf("missing change-detection predicate:\n%s", query)
	}
	if !strings.Contains(query, "RETURNING (xmax = 0)") {
		t.Errorf("missing insert/update discriminator:\n%s", query)
	}
}

func TestBuildUpsertQueryCompositeKey(t *testing.T) {
	query := buildUpsertQuery("real_estate.re_loc_district",
		[]string{"district", "city_id", "id"}, []string{"district", "city_id"}, 1)

	if !strings.Contains(query, "ON CONFLICT (district, city_id)") {
		t.Errorf("composite conflict target wrong:\n%s", query)
	}
	if !strings.Contains(query, "DO UPDATE SET id = EXCLUDED.id") {
		t.Errorf("only non-key columns belong in the SET list:\n%s", query)
	}
}
