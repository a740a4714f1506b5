package services

import (
	"fmt"
	"sort"
	"strings"

	"batdongsan-etl/models"
	"batdongsan-etl/utils"
)

// QualityService computes data-quality checks over the loaded fact table.
type QualityService struct {
	logger *utils.Logger
}

func NewQualityService(logger *utils.Logger) *QualityService {
	return &QualityService{logger: logger}
}

// Generate summarizes referential completeness, price coverage and the
// per-type row distribution. typeNames maps type surrogate ids to their
// display labels; rows with an unresolved type count under "(unknown)".
func (s *QualityService) Generate(facts []*models.FactRow, typeNames map[int64]string) *models.QualityReport {
	report := &models.QualityReport{TypeCounts: make(map[string]int)}
	if len(facts) == 0 {
		return report
	}

	report.TotalRows = len(facts)

	var priced int
	var total int64
	for _, f := range facts {
		if f.ReTypeID == nil {
			report.MissingType++
			report.TypeCounts["(unknown)"]++
		} else if name, ok := typeNames[*f.ReTypeID]; ok {
			report.TypeCounts[name]++
		} else {
			report.TypeCounts["(unknown)"]++
		}
		if f.ProjectID == nil {
			report.MissingProject++
		}
		if f.DistrictID == nil {
			report.MissingDistrict++
		}
		if f.Price == 0 {
			report.ZeroPrice++
			continue
		}
		if priced == 0 {
			report.MinPrice = f.Price
			report.MaxPrice = f.Price
		}
		if f.Price < report.MinPrice {
			report.MinPrice = f.Price
		}
		if f.Price > report.MaxPrice {
			report.MaxPrice = f.Price
		}
		total += f.Price
		priced++
	}

	if priced > 0 {
		report.AveragePrice = float64(total) / float64(priced)
	}
	return report
}

// Print writes a human-readable summary to stdout.
func (s *QualityService) Print(r *models.QualityReport) {
	sep := strings.Repeat("─", 48)

	fmt.Printf("\n  FACT TABLE QUALITY CHECK\n  %s\n", sep)
	fmt.Printf("  Total rows             : %d\n", r.TotalRows)
	fmt.Printf("  Missing type FK        : %d\n", r.MissingType)
	fmt.Printf("  Missing project FK     : %d\n", r.MissingProject)
	fmt.Printf("  Missing district FK    : %d\n", r.MissingDistrict)
	fmt.Printf("  Rows with zero price   : %d\n", r.ZeroPrice)
	if r.TotalRows > r.ZeroPrice {
		fmt.Printf("  Price (million VND)    : avg %.1f, min %d, max %d\n",
			r.AveragePrice, r.MinPrice, r.MaxPrice)
	} else {
		fmt.Printf("  No price data available\n")
	}

	if len(r.TypeCounts) > 0 {
		names := make([]string, 0, len(r.TypeCounts))
		for name := range r.TypeCounts {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Printf("  %s\n  Rows per type:\n", sep)
		for _, name := range names {
			fmt.Printf("    %-28s %d\n", name, r.TypeCounts[name])
		}
	}
	fmt.Printf("  %s\n\n", sep)
}
