package services

import (
	"math"
	"testing"

	"batdongsan-etl/models"
)

func i64(v int64) *int64 { return &v }

func TestQualityReport(t *testing.T) {
	svc := NewQualityService(newTestLogger())

	facts := []*models.FactRow{
		{ID: "a", ReTypeID: i64(1), ProjectID: i64(1), DistrictID: i64(1), Price: 2500},
		{ID: "b", ReTypeID: i64(1), Price: 800},
		{ID: "c", DistrictID: i64(2), Price: 0},
	}
	typeNames := map[int64]string{1: "căn hộ chung cư"}

	r := svc.Generate(facts, typeNames)

	if r.TotalRows != 3 {
		t.Errorf("TotalRows = %d; want 3", r.TotalRows)
	}
	if r.MissingType != 1 || r.MissingProject != 2 || r.MissingDistrict != 1 {
		t.Errorf("missing FKs = (%d, %d, %d); want (1, 2, 1)",
			r.MissingType, r.MissingProject, r.MissingDistrict)
	}
	if r.ZeroPrice != 1 {
		t.Errorf("ZeroPrice = %d; want 1", r.ZeroPrice)
	}
	if r.MinPrice != 800 || r.MaxPrice != 2500 {
		t.Errorf("price range = (%d, %d); want (800, 2500)", r.MinPrice, r.MaxPrice)
	}
	if math.Abs(r.AveragePrice-1650) > 0.001 {
		t.Errorf("AveragePrice = %f; want 1650", r.AveragePrice)
	}
	if r.TypeCounts["căn hộ chung cư"] != 2 || r.TypeCounts["(unknown)"] != 1 {
		t.Errorf("TypeCounts = %v; want 2 named, 1 unknown", r.TypeCounts)
	}
}

func TestQualityReportEmpty(t *testing.T) {
	svc := NewQualityService(newTestLogger())

	r := svc.Generate(nil, nil)
	if r.TotalRows != 0 || r.ZeroPrice != 0 || r.AveragePrice != 0 {
		t.Errorf("empty input should yield a zero report, got %+v", r)
	}
}
