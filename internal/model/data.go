package model

// Resource is one file attached to a catalog dataset
type Resource struct {
	ID          string `json:"id,omitempty"` // platform id, empty until first upload
	Name        string `json:"name"`
	Description string `json:"description"`
	Format      string `json:"format"`
	FilePath    string `json:"-"` // local artifact to upload
}

// Dataset is the catalog platform's descriptor for a publishable dataset
type Dataset struct {
	ID             string     `json:"id,omitempty"`
	Name           string     `json:"name"`
	Title          string     `json:"title"`
	Notes          string     `json:"notes,omitempty"`
	Methodology    string     `json:"methodology_other,omitempty"`
	Caveats        string     `json:"caveats,omitempty"`
	DatasetDate    string     `json:"dataset_date,omitempty"` // "[start TO end]"
	Groups         []string   `json:"groups"`                 // lower-case ISO3 codes
	OtherLocations []string   `json:"other_locations,omitempty"`
	Tags           []string   `json:"tags"`
	License        string     `json:"license_id,omitempty"`
	Maintainer     string     `json:"maintainer,omitempty"`
	Organization   string     `json:"owner_org,omitempty"`
	Resources      []Resource `json:"resources"`
}

// Interval parses the recorded dataset date
func (d *Dataset) Interval() (Interval, error) {
	return ParseInterval(d.DatasetDate)
}

// ResourceNames lists resource names in order
func (d *Dataset) ResourceNames() []string {
	names := make([]string, 0, len(d.Resources))
	for _, r := range d.Resources {
		names = append(names, r.Name)
	}
	return names
}

// Clone returns a deep copy of the descriptor
func (d *Dataset) Clone() *Dataset {
	if d == nil {
		return nil
	}
	cp := *d
	cp.Groups = append([]string(nil), d.Groups...)
	cp.OtherLocations = append([]string(nil), d.OtherLocations...)
	cp.Tags = append([]string(nil), d.Tags...)
	cp.Resources = append([]Resource(nil), d.Resources...)
	return &cp
}
