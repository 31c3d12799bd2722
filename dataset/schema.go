// Package dataset ingests tapstand/household field observations, resolves
// which historical column naming convention a table uses, and cleans the
// rows into records ready for normalization and training.
package dataset

import (
	"errors"
	"fmt"
	"strings"
)

// Timestamp columns shared by every naming convention.
const (
	UpstreamTimeField   = "ts_datetime"
	DownstreamTimeField = "hh_datetime"
)

var (
	// ErrSchemaNotRecognized is returned when no known upstream FRC column is present.
	ErrSchemaNotRecognized = errors.New("schema not recognized")
	// ErrInsufficientData is returned when too few usable rows remain.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrMalformedTimestamp is returned when a timestamp lacks a YYYY-MM-DDTHH:MM prefix.
	ErrMalformedTimestamp = errors.New("malformed timestamp")
)

// SchemaVariant maps the logical fields onto one column naming convention.
type SchemaVariant struct {
	Name          string `json:"name"`
	UpstreamFRC   string `json:"upstream_frc_field"`
	Temperature   string `json:"temperature_field"`
	Conductivity  string `json:"conductivity_field"`
	DownstreamFRC string `json:"downstream_frc_field"`
}

// Known naming conventions, in resolution priority order.
var (
	VariantSE = SchemaVariant{
		Name:          "se",
		UpstreamFRC:   "se1_frc",
		Temperature:   "se1_wattemp",
		Conductivity:  "se1_cond",
		DownstreamFRC: "se4_frc",
	}
	VariantTS1 = SchemaVariant{
		Name:          "ts1",
		UpstreamFRC:   "ts_frc1",
		Temperature:   "ts_wattemp",
		Conductivity:  "ts_cond",
		DownstreamFRC: "hh_frc1",
	}
	VariantTS = SchemaVariant{
		Name:          "ts",
		UpstreamFRC:   "ts_frc",
		Temperature:   "ts_wattemp",
		Conductivity:  "ts_cond",
		DownstreamFRC: "hh_frc",
	}
)

// Variants lists the known conventions in the order ResolveSchema tests them.
var Variants = []SchemaVariant{VariantSE, VariantTS1, VariantTS}

// ResolveSchema selects the first variant whose upstream FRC column is present.
func ResolveSchema(columns []string) (SchemaVariant, error) {
	present := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		present[strings.TrimSpace(c)] = struct{}{}
	}
	for _, v := range Variants {
		if _, ok := present[v.UpstreamFRC]; ok {
			return v, nil
		}
	}
	return SchemaVariant{}, fmt.Errorf("%w: none of %s present", ErrSchemaNotRecognized, knownUpstreamFields())
}

func knownUpstreamFields() string {
	names := make([]string, 0, len(Variants))
	for _, v := range Variants {
		names = append(names, v.UpstreamFRC)
	}
	return strings.Join(names, ", ")
}
