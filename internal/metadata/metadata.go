package metadata

import (
	"embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"

	"insecurity-insight-pipeline/internal/model"
)

//go:embed data/*.csv
var embedded embed.FS

const (
	resourcesFile = "resources.csv"
	schemaFile    = "schema.csv"
	countriesFile = "countries.csv"
)

// ErrInvalid is wrapped by every load-time validation failure
var ErrInvalid = errors.New("invalid metadata")

// FieldType is the declared output type of a spreadsheet column
type FieldType string

const (
	FieldDate    FieldType = "date"
	FieldNumeric FieldType = "numeric"
	FieldFloat   FieldType = "float"
	FieldText    FieldType = "text"
)

func parseFieldType(s string) (FieldType, bool) {
	switch t := FieldType(strings.ToLower(strings.TrimSpace(s))); t {
	case FieldDate, FieldNumeric, FieldFloat, FieldText:
		return t, true
	}
	return "", false
}

// Scope says whether a resource belongs to a topic dataset or a country dataset
type Scope string

const (
	ScopeTopic   Scope = "topic"
	ScopeCountry Scope = "country"
)

// Field is one output column of a spreadsheet
type Field struct {
	Dataset  string
	Number   int
	Name     string // output column
	Upstream string // key in the API response, empty when the API does not supply it
	Type     FieldType
	HXL      string
}

// Resource describes one spreadsheet slot of a dataset
type Resource struct {
	Name        string
	Scope       Scope
	Topic       string
	Kind        model.ResponseKind
	APIPath     string
	Description string
	Format      string
}

// Country is an ISO3 code with its display name and the names its country
// dataset was published under before
type Country struct {
	ISO3        string
	Name        string
	LegacyNames []string
}

// Catalog is the validated set of metadata tables. It is read-only after Load.
type Catalog struct {
	resources []Resource
	schemas   map[string][]Field
	countries map[string]Country
}

// Default loads the tables compiled into the binary
func Default() (*Catalog, error) {
	sub, err := fs.Sub(embedded, "data")
	if err != nil {
		return nil, err
	}
	return Load(sub)
}

// LoadDir loads the tables from a directory, or the compiled-in tables when dir is empty
func LoadDir(dir string) (*Catalog, error) {
	if dir == "" {
		return Default()
	}
	return Load(os.DirFS(dir))
}

// Load reads and validates resources.csv, schema.csv and countries.csv from fsys
func Load(fsys fs.FS) (*Catalog, error) {
	c := &Catalog{
		schemas:   make(map[string][]Field),
		countries: make(map[string]Country),
	}
	if err := readTable(fsys, countriesFile, []string{"iso3", "name"}, c.addCountry); err != nil {
		return nil, err
	}
	if err := readTable(fsys, schemaFile, []string{"dataset_name", "field_number", "field_name"}, c.addField); err != nil {
		return nil, err
	}
	if err := readTable(fsys, resourcesFile, []string{"resource_name", "scope", "topic", "response_kind", "description"}, c.addResource); err != nil {
		return nil, err
	}
	for name, fields := range c.schemas {
		sort.SliceStable(fields, func(i, j int) bool { return fields[i].Number < fields[j].Number })
		c.schemas[name] = fields
	}
	for _, r := range c.resources {
		if _, ok := c.schemas[schemaName(r.Topic, r.Kind)]; !ok {
			return nil, fmt.Errorf("%w: %s: resource %q has no schema %q", ErrInvalid, resourcesFile, r.Name, schemaName(r.Topic, r.Kind))
		}
	}
	return c, nil
}

// record is one CSV line addressed by header name
type record struct {
	values map[string]string
}

func (r record) get(col string) string { return r.values[col] }

func readTable(fsys fs.FS, name string, required []string, add func(record) error) error {
	f, err := fsys.Open(name)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.LazyQuotes = true
	headers, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read %s header: %w", name, err)
	}
	for i, h := range headers {
		headers[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	for _, col := range required {
		found := false
		for _, h := range headers {
			if h == col {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: %s: missing column %q", ErrInvalid, name, col)
		}
	}

	line := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		line++
		if err != nil {
			return fmt.Errorf("%s line %d: %w", name, line, err)
		}
		rec := record{values: make(map[string]string, len(headers))}
		for i, h := range headers {
			if i < len(row) {
				rec.values[h] = strings.TrimSpace(row[i])
			}
		}
		for _, col := range required {
			if rec.get(col) == "" {
				return fmt.Errorf("%w: %s line %d: %q is empty", ErrInvalid, name, line, col)
			}
		}
		if err := add(rec); err != nil {
			return fmt.Errorf("%w: %s line %d: %v", ErrInvalid, name, line, err)
		}
	}
}

func (c *Catalog) addCountry(rec record) error {
	iso := strings.ToUpper(rec.get("iso3"))
	if len(iso) != 3 {
		return fmt.Errorf("iso3 %q must have three letters", iso)
	}
	if _, dup := c.countries[iso]; dup {
		return fmt.Errorf("duplicate country %s", iso)
	}
	var legacy []string
	for _, n := range strings.Split(rec.get("legacy_names"), ";") {
		if n = strings.TrimSpace(n); n != "" {
			legacy = append(legacy, n)
		}
	}
	c.countries[iso] = Country{ISO3: iso, Name: rec.get("name"), LegacyNames: legacy}
	return nil
}

func (c *Catalog) addField(rec record) error {
	num, err := strconv.Atoi(rec.get("field_number"))
	if err != nil {
		return fmt.Errorf("field_number %q is not an integer", rec.get("field_number"))
	}
	f := Field{
		Dataset:  rec.get("dataset_name"),
		Number:   num,
		Name:     rec.get("field_name"),
		Upstream: rec.get("upstream"),
		HXL:      rec.get("hxl"),
	}
	if raw := rec.get("field_type"); raw != "" {
		t, ok := parseFieldType(raw)
		if !ok {
			return fmt.Errorf("unknown field_type %q", raw)
		}
		f.Type = t
	} else {
		f.Type = InferFieldType(f.Name, f.HXL)
	}
	for _, existing := range c.schemas[f.Dataset] {
		if existing.Name == f.Name {
			return fmt.Errorf("duplicate field %q in %s", f.Name, f.Dataset)
		}
	}
	c.schemas[f.Dataset] = append(c.schemas[f.Dataset], f)
	return nil
}

func (c *Catalog) addResource(rec record) error {
	kind, err := model.ParseResponseKind(rec.get("response_kind"))
	if err != nil {
		return err
	}
	r := Resource{
		Name:        rec.get("resource_name"),
		Scope:       Scope(rec.get("scope")),
		Topic:       rec.get("topic"),
		Kind:        kind,
		APIPath:     rec.get("api_path"),
		Description: rec.get("description"),
		Format:      strings.ToUpper(rec.get("file_format")),
	}
	switch r.Scope {
	case ScopeTopic:
		if r.APIPath == "" {
			return fmt.Errorf("topic resource %q needs an api_path", r.Name)
		}
	case ScopeCountry:
		if kind == model.KindOverview {
			return fmt.Errorf("country resource %q cannot use the overview kind", r.Name)
		}
	default:
		return fmt.Errorf("unknown scope %q", r.Scope)
	}
	if r.Format == "" {
		r.Format = "XLSX"
	}
	for _, existing := range c.resources {
		if existing.Name == r.Name {
			return fmt.Errorf("duplicate resource %q", r.Name)
		}
		if existing.Scope == r.Scope && existing.Topic == r.Topic && existing.Kind == r.Kind {
			return fmt.Errorf("resource %q repeats %s/%s/%s", r.Name, r.Scope, r.Topic, r.Kind)
		}
	}
	c.resources = append(c.resources, r)
	return nil
}

// schemaName maps a topic and kind to its schema; current-year responses share the incidents schema
func schemaName(topic string, kind model.ResponseKind) string {
	if kind == model.KindIncidentsCurrentYear {
		kind = model.KindIncidents
	}
	return topic + "-" + string(kind)
}

// Schema returns the ordered output columns for a topic and kind
func (c *Catalog) Schema(topic string, kind model.ResponseKind) ([]Field, error) {
	fields, ok := c.schemas[schemaName(topic, kind)]
	if !ok {
		return nil, fmt.Errorf("no schema for %s", schemaName(topic, kind))
	}
	return append([]Field(nil), fields...), nil
}

// ExpectedKeys returns the sorted upstream keys the API is expected to return
func (c *Catalog) ExpectedKeys(topic string, kind model.ResponseKind) []string {
	var keys []string
	for _, f := range c.schemas[schemaName(topic, kind)] {
		if f.Upstream != "" {
			keys = append(keys, f.Upstream)
		}
	}
	sort.Strings(keys)
	return keys
}

// Resource looks up the slot of a scope, topic and kind
func (c *Catalog) Resource(scope Scope, topic string, kind model.ResponseKind) (Resource, bool) {
	for _, r := range c.resources {
		if r.Scope == scope && r.Topic == topic && r.Kind == kind {
			return r, true
		}
	}
	return Resource{}, false
}

// Resources returns every slot of a scope belonging to a topic, in file order
func (c *Catalog) Resources(scope Scope, topic string) []Resource {
	var out []Resource
	for _, r := range c.resources {
		if r.Scope == scope && r.Topic == topic {
			out = append(out, r)
		}
	}
	return out
}

// CountryName returns the display name of an ISO3 code, or the code itself when unknown
func (c *Catalog) CountryName(iso3 string) string {
	if country, ok := c.countries[strings.ToUpper(iso3)]; ok {
		return country.Name
	}
	return strings.ToUpper(iso3)
}

// LegacyNames returns the earlier catalog names of a country's dataset, newest first
func (c *Catalog) LegacyNames(iso3 string) []string {
	return append([]string(nil), c.countries[strings.ToUpper(iso3)].LegacyNames...)
}

// InferFieldType derives a column type from its HXL hashtag when none is declared
func InferFieldType(fieldName, hxl string) FieldType {
	tag := strings.ToLower(strings.TrimSpace(hxl))
	switch {
	case strings.Contains(strings.ToLower(fieldName), "outcome"):
		return FieldText
	case strings.HasPrefix(tag, "#date"):
		return FieldDate
	case strings.HasPrefix(tag, "#geo") && !strings.Contains(tag, "+precision"):
		return FieldFloat
	case strings.HasPrefix(tag, "#affected"), strings.Contains(tag, "+num"):
		return FieldNumeric
	}
	return FieldText
}
