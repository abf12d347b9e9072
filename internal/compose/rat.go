package compose

// RATSchema names one attribute-table layout. The expected column set varies
// by product; the variants form a closed set selected once per run from the
// data source, never re-derived downstream.
type RATSchema int

const (
	RATBlueTopo RATSchema = iota
	RATHSD
	RATS102
)

func (s RATSchema) String() string {
	switch s {
	case RATHSD:
		return "hsd"
	case RATS102:
		return "s102"
	default:
		return "bluetopo"
	}
}

// ColumnKind is the storage type of an attribute-table column.
type ColumnKind int

const (
	ColumnInt ColumnKind = iota
	ColumnFloat
	ColumnString
)

// RATColumn is one expected column of the contributor attribute table.
type RATColumn struct {
	Name string
	Kind ColumnKind
}

var bluetopoColumns = []RATColumn{
	{"value", ColumnInt},
	{"count", ColumnInt},
	{"data_assessment", ColumnInt},
	{"feature_least_depth", ColumnFloat},
	{"significant_features", ColumnFloat},
	{"feature_size", ColumnFloat},
	{"coverage", ColumnInt},
	{"bathy_coverage", ColumnInt},
	{"horizontal_uncert_fixed", ColumnFloat},
	{"horizontal_uncert_var", ColumnFloat},
	{"vertical_uncert_fixed", ColumnFloat},
	{"vertical_uncert_var", ColumnFloat},
	{"license_name", ColumnString},
	{"license_url", ColumnString},
	{"source_survey_id", ColumnString},
	{"source_institution", ColumnString},
	{"survey_date_start", ColumnString},
	{"survey_date_end", ColumnString},
}

var hsdExtras = []RATColumn{
	{"catzoc", ColumnInt},
	{"supercession_score", ColumnFloat},
	{"decay_score", ColumnFloat},
	{"unqualified", ColumnInt},
	{"sensitive", ColumnInt},
}

var s102Columns = []RATColumn{
	{"value", ColumnInt},
	{"data_assessment", ColumnInt},
	{"feature_least_depth", ColumnFloat},
	{"significant_features", ColumnFloat},
	{"feature_size", ColumnString},
	{"feature_size_var", ColumnInt},
	{"coverage", ColumnInt},
	{"bathy_coverage", ColumnInt},
	{"horizontal_uncert_fixed", ColumnFloat},
	{"horizontal_uncert_var", ColumnFloat},
	{"survey_date_start", ColumnString},
	{"survey_date_end", ColumnString},
	{"source_survey_id", ColumnString},
	{"source_institution", ColumnString},
	{"bathymetric_uncertainty_type", ColumnInt},
}

// Columns returns the expected attribute-table layout for the variant.
func (s RATSchema) Columns() []RATColumn {
	switch s {
	case RATHSD:
		out := make([]RATColumn, 0, len(bluetopoColumns)+len(hsdExtras))
		out = append(out, bluetopoColumns...)
		return append(out, hsdExtras...)
	case RATS102:
		return append([]RATColumn(nil), s102Columns...)
	default:
		return append([]RATColumn(nil), bluetopoColumns...)
	}
}
