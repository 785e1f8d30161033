package metadata

import (
	"errors"
	"testing"
	"testing/fstest"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insecurity-insight-pipeline/internal/model"
)

func TestDefault(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	for _, topic := range []string{"aidworker", "crsv", "education", "explosive", "foodsecurity", "healthcare", "protection"} {
		for _, kind := range model.ResponseKinds {
			r, ok := c.Resource(ScopeTopic, topic, kind)
			require.True(t, ok, "%s %s", topic, kind)
			assert.NotEmpty(t, r.APIPath)
			assert.Equal(t, "XLSX", r.Format)

			fields, err := c.Schema(topic, kind)
			require.NoError(t, err)
			assert.NotEmpty(t, fields)
		}
		_, ok := c.Resource(ScopeCountry, topic, model.KindIncidents)
		assert.True(t, ok, topic)
	}

	assert.Equal(t, "Nigeria", c.CountryName("nga"))
	assert.Equal(t, "QQQ", c.CountryName("qqq"))
	assert.Equal(t, []string{"insecurity-insight-opt-dataset", "insecurity-insight-palestine-dataset"}, c.LegacyNames("PSE"))
	assert.Empty(t, c.LegacyNames("NGA"))
}

func TestSchema_OrderAndCurrentYear(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	full, err := c.Schema("healthcare", model.KindIncidents)
	require.NoError(t, err)
	current, err := c.Schema("healthcare", model.KindIncidentsCurrentYear)
	require.NoError(t, err)
	if diff := cmp.Diff(full, current); diff != "" {
		t.Errorf("current-year schema differs from incidents (-want +got):\n%s", diff)
	}

	assert.Equal(t, "Date", full[0].Name)
	assert.Equal(t, FieldDate, full[0].Type)
	for i := 1; i < len(full); i++ {
		assert.Less(t, full[i-1].Number, full[i].Number)
	}

	_, err = c.Schema("weather", model.KindIncidents)
	assert.Error(t, err)
}

func TestSchema_InferredTypes(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	fields, err := c.Schema("aidworker", model.KindIncidents)
	require.NoError(t, err)
	types := map[string]FieldType{}
	for _, f := range fields {
		types[f.Name] = f.Type
	}
	assert.Equal(t, FieldNumeric, types["Aid Workers Killed"])
	// declared numeric in the table; the text override is applied by the builder
	assert.Equal(t, FieldNumeric, types["Known Kidnapping or Arrest Outcome"])
}

func TestExpectedKeys(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	keys := c.ExpectedKeys("aidworker", model.KindIncidentsCurrentYear)
	assert.Contains(t, keys, "country_iso")
	assert.Contains(t, keys, "date")
	assert.NotContains(t, keys, "Country ISO")
	assert.IsNonDecreasing(t, keys)
}

func TestInferFieldType(t *testing.T) {
	tests := []struct {
		field, hxl string
		want       FieldType
	}{
		{"Date", "#date+occurred", FieldDate},
		{"Latitude", "#geo+lat", FieldFloat},
		{"Geo Precision", "#geo+precision", FieldText},
		{"Health Workers Killed", "#affected+killed", FieldNumeric},
		{"Total", "#event+num", FieldNumeric},
		{"Known Kidnapping or Arrest Outcome", "#affected+outcome", FieldText},
		{"Country", "#country+name", FieldText},
		{"Notes", "", FieldText},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			assert.Equal(t, tt.want, InferFieldType(tt.field, tt.hxl))
		})
	}
}

func validFS() fstest.MapFS {
	return fstest.MapFS{
		"countries.csv": {Data: []byte("iso3,name,legacy_names\nNGA,Nigeria,\n")},
		"schema.csv": {Data: []byte("dataset_name,field_number,field_name,upstream,field_type,hxl\n" +
			"demo-incidents,1,Country ISO,Country ISO,text,#country+code\n" +
			"demo-incidents,0,Date,Date,,#date\n")},
		"resources.csv": {Data: []byte("resource_name,scope,topic,response_kind,api_path,description,file_format\n" +
			"demo-incidents,topic,demo,incidents,demo,Demo incidents,\n")},
	}
}

func TestLoad_Minimal(t *testing.T) {
	c, err := Load(validFS())
	require.NoError(t, err)

	fields, err := c.Schema("demo", model.KindIncidents)
	require.NoError(t, err)
	assert.Equal(t, "Date", fields[0].Name)
	assert.Equal(t, FieldDate, fields[0].Type)

	r, ok := c.Resource(ScopeTopic, "demo", model.KindIncidents)
	require.True(t, ok)
	assert.Equal(t, "XLSX", r.Format)
	assert.Len(t, c.Resources(ScopeTopic, "demo"), 1)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		file string
		data string
		want string
	}{
		{"missing column", "schema.csv", "dataset_name,field_name\ndemo-incidents,Date\n", `missing column "field_number"`},
		{"bad field number", "schema.csv", "dataset_name,field_number,field_name,upstream,field_type,hxl\ndemo-incidents,x,Date,Date,date,\n", "field_number"},
		{"unknown field type", "schema.csv", "dataset_name,field_number,field_name,upstream,field_type,hxl\ndemo-incidents,0,Date,Date,timestamp,\n", "unknown field_type"},
		{"empty required value", "resources.csv", "resource_name,scope,topic,response_kind,api_path,description,file_format\n,topic,demo,incidents,demo,x,XLSX\n", `"resource_name" is empty`},
		{"unknown kind", "resources.csv", "resource_name,scope,topic,response_kind,api_path,description,file_format\nr,topic,demo,weekly,demo,x,XLSX\n", "unknown response kind"},
		{"unknown scope", "resources.csv", "resource_name,scope,topic,response_kind,api_path,description,file_format\nr,region,demo,incidents,demo,x,XLSX\n", "unknown scope"},
		{"no schema", "resources.csv", "resource_name,scope,topic,response_kind,api_path,description,file_format\nr,topic,other,incidents,other,x,XLSX\n", "has no schema"},
		{"bad iso", "countries.csv", "iso3,name,legacy_names\nNG,Nigeria,\n", "three letters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := validFS()
			fsys[tt.file] = &fstest.MapFile{Data: []byte(tt.data)}

			_, err := Load(fsys)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.True(t, errors.Is(err, ErrInvalid), err.Error())
		})
	}
}

func TestLoadDir(t *testing.T) {
	c, err := LoadDir("")
	require.NoError(t, err)
	assert.Equal(t, "Syrian Arab Republic", c.CountryName("SYR"))

	_, err = LoadDir(t.TempDir())
	assert.Error(t, err)
}
