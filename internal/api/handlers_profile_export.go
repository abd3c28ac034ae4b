package api

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"

	"shopsync/internal/mapping"
	"shopsync/internal/models"
)

const maxProfileImportBytes = 1 << 20

// profileExport is the portable form of a profile: its source definition and
// mappings, without ids, schedule bookkeeping or integration binding.
type profileExport struct {
	Profile  profileExportProfile `yaml:"profile"`
	Mappings []profileExportRule  `yaml:"mappings,omitempty"`
}

type profileExportProfile struct {
	Name           string              `yaml:"name"`
	Format         models.SourceFormat `yaml:"format"`
	SourceType     models.SourceType   `yaml:"sourceType"`
	SourceLocation string              `yaml:"sourceLocation"`
	Delimiter      string              `yaml:"delimiter,omitempty"`
	HasHeader      bool                `yaml:"hasHeader"`
	RecordPath     string              `yaml:"recordPath,omitempty"`
	Encoding       string              `yaml:"encoding,omitempty"`
	Active         bool                `yaml:"active"`
	FetchMode      models.FetchMode    `yaml:"fetchMode"`
	Interval       *int                `yaml:"intervalMinutes,omitempty"`
	DailyTime      *string             `yaml:"dailyTime,omitempty"`
	Timezone       string              `yaml:"timezone,omitempty"`
	Cron           *string             `yaml:"cronExpression,omitempty"`
	ChunkSize      int                 `yaml:"chunkSize,omitempty"`
}

type profileExportRule struct {
	TargetType  models.TargetType `yaml:"targetType"`
	SourceField string            `yaml:"sourceField"`
	TargetField string            `yaml:"targetField"`
	Transform   string            `yaml:"transform,omitempty"`
}

func (s *server) handleExportProfile(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())
	profileID := chi.URLParam(r, "profileId")
	p, ok, err := s.store.GetProfile(r.Context(), tenantID, profileID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load profile", nil)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "profile_not_found", "profile not found", map[string]any{"profileId": profileID})
		return
	}
	mappings, err := s.store.ListMappings(r.Context(), tenantID, profileID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list mappings", nil)
		return
	}

	export := profileExport{
		Profile: profileExportProfile{
			Name:           p.Name,
			Format:         p.Format,
			SourceType:     p.SourceType,
			SourceLocation: p.SourceLocation,
			Delimiter:      p.Options.Delimiter,
			HasHeader:      p.Options.HasHeader,
			RecordPath:     p.Options.RecordPath,
			Encoding:       p.Options.Encoding,
			Active:         p.Active,
			FetchMode:      p.Schedule.Mode,
			Interval:       p.Schedule.IntervalMinutes,
			DailyTime:      p.Schedule.DailyTime,
			Timezone:       p.Schedule.Timezone,
			Cron:           p.Schedule.CronExpression,
			ChunkSize:      p.ChunkSize,
		},
	}
	for _, m := range mappings {
		export.Mappings = append(export.Mappings, profileExportRule{
			TargetType:  m.TargetType,
			SourceField: m.SourceField,
			TargetField: m.TargetField,
			Transform:   m.Transform,
		})
	}

	data, err := yaml.Marshal(export)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to serialize profile export", nil)
		return
	}

	if wantsDownload(r) {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", buildProfileExportFilename(p.Name, p.ID)))
	}
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleImportProfile creates a new profile from an export document. Mappings
// are validated before the profile is written.
func (s *server) handleImportProfile(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxProfileImportBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "failed to read request body", nil)
		return
	}
	if len(body) > maxProfileImportBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "too_large", "profile document is too large", map[string]any{"maxBytes": maxProfileImportBytes})
		return
	}
	var doc profileExport
	if err := yaml.Unmarshal(body, &doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_yaml", "invalid profile document", map[string]any{"error": err.Error()})
		return
	}
	if strings.TrimSpace(doc.Profile.Name) == "" || strings.TrimSpace(doc.Profile.SourceLocation) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "profile.name and profile.sourceLocation are required", nil)
		return
	}

	rules := make([]models.MappingRule, 0, len(doc.Mappings))
	for _, m := range doc.Mappings {
		rules = append(rules, models.MappingRule{
			TargetType:  m.TargetType,
			SourceField: m.SourceField,
			TargetField: m.TargetField,
			Transform:   m.Transform,
		})
	}
	if len(rules) > 0 {
		if err := mapping.Validate(rules, nil); err != nil {
			writeServiceError(w, err, "invalid mappings")
			return
		}
	}

	dp := doc.Profile
	active := dp.Active
	req := models.ProfileCreateRequest{
		Name:           strings.TrimSpace(dp.Name),
		Format:         dp.Format,
		SourceType:     dp.SourceType,
		SourceLocation: strings.TrimSpace(dp.SourceLocation),
		Options: &models.ParseOptions{
			Delimiter:  dp.Delimiter,
			HasHeader:  dp.HasHeader,
			RecordPath: dp.RecordPath,
			Encoding:   dp.Encoding,
		},
		Active: &active,
		Schedule: models.Schedule{
			Mode:            dp.FetchMode,
			IntervalMinutes: dp.Interval,
			DailyTime:       dp.DailyTime,
			Timezone:        dp.Timezone,
			CronExpression:  dp.Cron,
		},
		ChunkSize: dp.ChunkSize,
	}

	tenantID := tenantFromContext(r.Context())
	profile, err := s.store.CreateProfile(r.Context(), tenantID, req, time.Now().UTC())
	if err != nil {
		writeServiceError(w, err, "failed to create profile")
		return
	}
	if len(rules) > 0 {
		if _, err := s.syncer.SyncMappings(r.Context(), tenantID, profile.ID, rules); err != nil {
			writeServiceError(w, err, "failed to save mappings")
			return
		}
	}
	writeJSON(w, http.StatusCreated, profile)
}

func wantsDownload(r *http.Request) bool {
	value := strings.TrimSpace(strings.ToLower(r.URL.Query().Get("download")))
	return value == "1" || value == "true" || value == "yes"
}

func buildProfileExportFilename(name, id string) string {
	base := sanitizeExportFilename(name)
	if base == "" {
		base = sanitizeExportFilename(id)
	}
	if base == "" {
		base = "profile"
	}
	return fmt.Sprintf("%s.yaml", base)
}

func sanitizeExportFilename(value string) string {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return ""
	}
	replacer := strings.NewReplacer(
		"\\", "-",
		"/", "-",
		":", "-",
		"*", "-",
		"?", "-",
		"\"", "-",
		"<", "-",
		">", "-",
		"|", "-",
	)
	cleaned = replacer.Replace(cleaned)
	cleaned = strings.Join(strings.Fields(cleaned), "_")
	return strings.Trim(cleaned, "._-")
}
