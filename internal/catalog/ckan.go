package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"insecurity-insight-pipeline/internal/model"
)

// CKAN talks to the action API of a CKAN site such as HDX
type CKAN struct {
	BaseURL   string
	APIKey    string
	UserAgent string
	Client    *http.Client
	Logger    *zap.Logger
}

// NewCKAN returns a client for the site at baseURL
func NewCKAN(baseURL, apiKey, userAgent string, logger *zap.Logger) *CKAN {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CKAN{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		APIKey:    apiKey,
		UserAgent: userAgent,
		Client:    &http.Client{Timeout: 5 * time.Minute},
		Logger:    logger,
	}
}

// APIError is an unsuccessful action response
type APIError struct {
	Action     string
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ckan %s: %d %s: %s", e.Action, e.StatusCode, e.Type, e.Message)
}

type actionResponse struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Type    string `json:"__type"`
		Message string `json:"message"`
	} `json:"error"`
}

type ckanName struct {
	Name string `json:"name"`
}

type ckanResource struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Format      string `json:"format"`
}

type ckanPackage struct {
	ID               string         `json:"id,omitempty"`
	Name             string         `json:"name"`
	Title            string         `json:"title"`
	Notes            string         `json:"notes,omitempty"`
	Methodology      string         `json:"methodology,omitempty"`
	MethodologyOther string         `json:"methodology_other,omitempty"`
	Caveats          string         `json:"caveats,omitempty"`
	DatasetDate      string         `json:"dataset_date,omitempty"`
	Groups           []ckanName     `json:"groups"`
	Tags             []ckanName     `json:"tags"`
	LicenseID        string         `json:"license_id,omitempty"`
	Maintainer       string         `json:"maintainer,omitempty"`
	OwnerOrg         string         `json:"owner_org,omitempty"`
	Resources        []ckanResource `json:"resources,omitempty"`
}

// methodologies are the values HDX accepts in methodology; anything else goes to methodology_other
var methodologies = map[string]bool{
	"Census": true, "Sample Survey": true, "Registry": true, "Other": true,
	"Direct Observational Data/Anecdotal Data": true,
}

func toPackage(ds *model.Dataset) ckanPackage {
	p := ckanPackage{
		ID:          ds.ID,
		Name:        ds.Name,
		Title:       ds.Title,
		Notes:       ds.Notes,
		Caveats:     ds.Caveats,
		DatasetDate: ds.DatasetDate,
		LicenseID:   ds.License,
		Maintainer:  ds.Maintainer,
		OwnerOrg:    ds.Organization,
		Groups:      []ckanName{},
		Tags:        []ckanName{},
	}
	switch {
	case ds.Methodology == "":
	case methodologies[ds.Methodology]:
		p.Methodology = ds.Methodology
	default:
		p.Methodology = "Other"
		p.MethodologyOther = ds.Methodology
	}
	// other locations are platform groups too; they are kept apart only in the descriptor
	for _, g := range append(append([]string(nil), ds.Groups...), ds.OtherLocations...) {
		p.Groups = append(p.Groups, ckanName{Name: g})
	}
	for _, t := range ds.Tags {
		p.Tags = append(p.Tags, ckanName{Name: t})
	}
	return p
}

func fromPackage(p ckanPackage) *model.Dataset {
	ds := &model.Dataset{
		ID:           p.ID,
		Name:         p.Name,
		Title:        p.Title,
		Notes:        p.Notes,
		Methodology:  p.Methodology,
		Caveats:      p.Caveats,
		DatasetDate:  p.DatasetDate,
		License:      p.LicenseID,
		Maintainer:   p.Maintainer,
		Organization: p.OwnerOrg,
	}
	if p.Methodology == "Other" && p.MethodologyOther != "" {
		ds.Methodology = p.MethodologyOther
	}
	for _, g := range p.Groups {
		ds.Groups = append(ds.Groups, g.Name)
	}
	for _, t := range p.Tags {
		ds.Tags = append(ds.Tags, t.Name)
	}
	for _, r := range p.Resources {
		ds.Resources = append(ds.Resources, model.Resource{ID: r.ID, Name: r.Name, Description: r.Description, Format: r.Format})
	}
	return ds
}

func (c *CKAN) actionURL(action string) string {
	return c.BaseURL + "/api/3/action/" + action
}

func (c *CKAN) do(req *http.Request, action string, out interface{}) error {
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", c.APIKey)
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("ckan %s: %w", action, err)
	}
	defer resp.Body.Close()

	var ar actionResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return &APIError{Action: action, StatusCode: resp.StatusCode, Type: "Decode Error", Message: err.Error()}
	}
	if !ar.Success || resp.StatusCode >= 300 {
		apiErr := &APIError{Action: action, StatusCode: resp.StatusCode}
		if ar.Error != nil {
			apiErr.Type, apiErr.Message = ar.Error.Type, ar.Error.Message
		}
		if resp.StatusCode == http.StatusNotFound || apiErr.Type == "Not Found Error" {
			return fmt.Errorf("%w: %v", ErrNotFound, apiErr)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(ar.Result, out)
}

func (c *CKAN) postJSON(ctx context.Context, action string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.actionURL(action), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, action, out)
}

// Show calls package_show
func (c *CKAN) Show(ctx context.Context, name string) (*model.Dataset, error) {
	p, _, err := c.showPackage(ctx, name)
	if err != nil {
		return nil, err
	}
	return fromPackage(p), nil
}

// showPackage returns the typed package together with every key the site sent
func (c *CKAN) showPackage(ctx context.Context, name string) (ckanPackage, map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.actionURL("package_show")+"?id="+url.QueryEscape(name), nil)
	if err != nil {
		return ckanPackage{}, nil, err
	}
	var raw json.RawMessage
	if err := c.do(req, "package_show", &raw); err != nil {
		return ckanPackage{}, nil, err
	}
	var p ckanPackage
	if err := json.Unmarshal(raw, &p); err != nil {
		return ckanPackage{}, nil, fmt.Errorf("ckan package_show: %w", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return ckanPackage{}, nil, fmt.Errorf("ckan package_show: %w", err)
	}
	return p, fields, nil
}

// overlay writes the managed fields of pkg over a package_show result.
// package_update replaces the whole package: unmanaged keys and the full
// resource records must be sent back unchanged.
func overlay(current map[string]interface{}, pkg ckanPackage) (map[string]interface{}, error) {
	pkg.Resources = nil
	data, err := json.Marshal(pkg)
	if err != nil {
		return nil, err
	}
	var managed map[string]interface{}
	if err := json.Unmarshal(data, &managed); err != nil {
		return nil, err
	}
	out := make(map[string]interface{}, len(current)+len(managed))
	for k, v := range current {
		out[k] = v
	}
	for k, v := range managed {
		out[k] = v
	}
	if pkg.Methodology != "" && pkg.Methodology != "Other" {
		delete(out, "methodology_other")
	}
	return out, nil
}

// Publish calls package_create or package_update, then uploads each resource that has a
// local file with resource_create or resource_update, and returns the stored dataset.
func (c *CKAN) Publish(ctx context.Context, ds *model.Dataset) (*model.Dataset, error) {
	logger := c.Logger.With(zap.String("dataset", ds.Name))

	// by id when known, so a dataset read under a legacy name is renamed
	key := ds.Name
	if ds.ID != "" {
		key = ds.ID
	}
	current, fields, err := c.showPackage(ctx, key)
	exists := err == nil
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	pkg := toPackage(ds)
	var stored ckanPackage
	if exists {
		pkg.ID = current.ID
		// existing resources stay attached; uploads below replace or add to them
		var body map[string]interface{}
		if body, err = overlay(fields, pkg); err != nil {
			return nil, err
		}
		err = c.postJSON(ctx, "package_update", body, &stored)
	} else {
		pkg.ID = ""
		err = c.postJSON(ctx, "package_create", pkg, &stored)
	}
	if err != nil {
		return nil, err
	}
	logger.Info("dataset saved", zap.Bool("created", !exists), zap.String("id", stored.ID))

	byName := make(map[string]string, len(stored.Resources))
	for _, r := range stored.Resources {
		byName[r.Name] = r.ID
	}
	for _, r := range ds.Resources {
		if r.FilePath == "" {
			continue
		}
		id := r.ID
		if id == "" {
			id = byName[r.Name]
		}
		if err := c.upload(ctx, stored.ID, id, r); err != nil {
			return nil, fmt.Errorf("failed to upload %s: %w", r.Name, err)
		}
		logger.Info("resource uploaded", zap.String("resource", r.Name), zap.Bool("update", id != ""))
	}
	return c.Show(ctx, ds.Name)
}

func (c *CKAN) upload(ctx context.Context, packageID, resourceID string, r model.Resource) error {
	action := "resource_create"
	if resourceID != "" {
		action = "resource_update"
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fields := map[string]string{
		"package_id":  packageID,
		"name":        r.Name,
		"description": r.Description,
		"format":      r.Format,
	}
	if resourceID != "" {
		fields["id"] = resourceID
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return err
		}
	}
	file, err := os.Open(r.FilePath)
	if err != nil {
		return err
	}
	defer file.Close()
	part, err := w.CreateFormFile("upload", filepath.Base(r.FilePath))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.actionURL(action), &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.do(req, action, nil)
}

// ReorderResources calls package_resource_reorder
func (c *CKAN) ReorderResources(ctx context.Context, datasetID string, resourceIDs []string) error {
	body := map[string]interface{}{"id": datasetID, "order": resourceIDs}
	return c.postJSON(ctx, "package_resource_reorder", body, nil)
}
