package repo

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"appforge/internal/domain"
)

// wireProject mirrors the stored layout with loose types so individual
// records can be checked without failing the whole collection.
type wireProject struct {
	ID            string  `json:"id"`
	UserID        string  `json:"userId"`
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	TechStack     string  `json:"techStack"`
	Status        string  `json:"status"`
	GeneratedCode *string `json:"generatedCode,omitempty"`
	PreviewURL    *string `json:"previewUrl,omitempty"`
	CreatedAt     string  `json:"createdAt"`
	UpdatedAt     string  `json:"updatedAt"`
}

// record is one array entry. Entries that fail validation keep their raw
// bytes and are written back untouched.
type record struct {
	project domain.Project
	raw     json.RawMessage
	invalid error
}

type collection struct {
	records []record
}

func decodeCollection(data []byte) (collection, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return collection{}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return collection{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	c := collection{records: make([]record, 0, len(items))}
	for _, raw := range items {
		p, err := decodeProject(raw)
		if err != nil {
			c.records = append(c.records, record{raw: append(json.RawMessage(nil), raw...), invalid: err})
			continue
		}
		c.records = append(c.records, record{project: p})
	}
	return c, nil
}

func decodeProject(raw json.RawMessage) (domain.Project, error) {
	var w wireProject
	if err := json.Unmarshal(raw, &w); err != nil {
		return domain.Project{}, err
	}
	if strings.TrimSpace(w.ID) == "" {
		return domain.Project{}, errors.New("id missing")
	}
	if strings.TrimSpace(w.UserID) == "" {
		return domain.Project{}, errors.New("userId missing")
	}
	status, err := domain.ParseStatus(w.Status)
	if err != nil {
		return domain.Project{}, err
	}
	created, err := parseTime(w.CreatedAt)
	if err != nil {
		return domain.Project{}, fmt.Errorf("createdAt: %w", err)
	}
	updated := created
	if w.UpdatedAt != "" {
		if updated, err = parseTime(w.UpdatedAt); err != nil {
			return domain.Project{}, fmt.Errorf("updatedAt: %w", err)
		}
		if updated.Before(created) {
			updated = created
		}
	}
	return domain.Project{
		ID:            w.ID,
		UserID:        w.UserID,
		Name:          w.Name,
		Description:   w.Description,
		TechStack:     domain.TechStack(w.TechStack),
		Status:        status,
		GeneratedCode: w.GeneratedCode,
		PreviewURL:    w.PreviewURL,
		CreatedAt:     created,
		UpdatedAt:     updated,
	}, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("missing")
	}
	return time.Parse(time.RFC3339Nano, s)
}

func (c collection) encode() ([]byte, error) {
	items := make([]json.RawMessage, 0, len(c.records))
	for _, rec := range c.records {
		if rec.invalid != nil {
			items = append(items, rec.raw)
			continue
		}
		data, err := json.Marshal(toWire(rec.project))
		if err != nil {
			return nil, err
		}
		items = append(items, data)
	}
	return json.Marshal(items)
}

func toWire(p domain.Project) wireProject {
	return wireProject{
		ID:            p.ID,
		UserID:        p.UserID,
		Name:          p.Name,
		Description:   p.Description,
		TechStack:     string(p.TechStack),
		Status:        string(p.Status),
		GeneratedCode: p.GeneratedCode,
		PreviewURL:    p.PreviewURL,
		CreatedAt:     p.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt:     p.UpdatedAt.UTC().Format(timeLayout),
	}
}

// timeLayout matches the millisecond ISO-8601 strings already in stored data.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func (c collection) find(id string) int {
	for i, rec := range c.records {
		if rec.invalid == nil && rec.project.ID == id {
			return i
		}
	}
	return -1
}
