package survey

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// InvalidGraphError blocks a write whose graph failed structural
// validation. The full result rides along so the editor can show it.
type InvalidGraphError struct {
	Result ValidationResult
}

func (e *InvalidGraphError) Error() string { return "survey graph failed validation" }

// Service owns survey configurations: the editor's CRUD surface plus
// validation gating on every write.
type Service struct {
	repo ConfigRepository
	log  zerolog.Logger
}

func NewService(repo ConfigRepository, log zerolog.Logger) *Service {
	return &Service{repo: repo, log: log}
}

// ConfigSummary is one row of the editor's survey list.
type ConfigSummary struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Version     string     `json:"version"`
	Description *string    `json:"description,omitempty"`
	IsActive    bool       `json:"is_active"`
	NodesCount  int        `json:"nodes_count"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

func (s *Service) List(ctx context.Context, activeOnly bool, limit, offset int) ([]ConfigSummary, int, error) {
	configs, total, err := s.repo.List(ctx, activeOnly, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items := make([]ConfigSummary, 0, len(configs))
	for _, c := range configs {
		items = append(items, summarize(c))
	}
	return items, total, nil
}

func summarize(c *SurveyConfig) ConfigSummary {
	var doc struct {
		Version string            `json:"version"`
		Nodes   []json.RawMessage `json:"nodes"`
	}
	_ = json.Unmarshal(c.JSONConfig, &doc)
	if doc.Version == "" {
		doc.Version = "1.0"
	}
	return ConfigSummary{
		ID:          c.ID,
		Name:        c.Name,
		Version:     doc.Version,
		Description: c.Description,
		IsActive:    c.IsActive,
		NodesCount:  len(doc.Nodes),
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

func (s *Service) Get(ctx context.Context, id int64) (*SurveyConfig, error) {
	return s.repo.GetByID(ctx, id)
}

// GetActive returns the configuration new sessions run against.
func (s *Service) GetActive(ctx context.Context) (*SurveyConfig, error) {
	return s.repo.GetActive(ctx)
}

// Create stores a new configuration. The document must decode and pass
// validation; new configurations start out active.
func (s *Service) Create(ctx context.Context, doc json.RawMessage) (*SurveyConfig, error) {
	cfg, err := s.buildConfig(doc)
	if err != nil {
		return nil, err
	}
	cfg.IsActive = true
	if err := s.repo.Create(ctx, cfg); err != nil {
		return nil, err
	}
	s.log.Info().Int64("survey_id", cfg.ID).Str("name", cfg.Name).Msg("survey config created")
	return cfg, nil
}

// Update overwrites an existing configuration in place. The same
// validation gate applies as on create; the active flag is preserved.
func (s *Service) Update(ctx context.Context, id int64, doc json.RawMessage) (*SurveyConfig, error) {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	cfg, err := s.buildConfig(doc)
	if err != nil {
		return nil, err
	}
	cfg.ID = existing.ID
	cfg.IsActive = existing.IsActive
	cfg.CreatedAt = existing.CreatedAt
	if err := s.repo.Update(ctx, cfg); err != nil {
		return nil, err
	}
	s.log.Info().Int64("survey_id", cfg.ID).Str("name", cfg.Name).Msg("survey config updated")
	return cfg, nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info().Int64("survey_id", id).Msg("survey config deleted")
	return nil
}

// Validate runs structural validation against a stored configuration.
func (s *Service) Validate(ctx context.Context, id int64) (ValidationResult, error) {
	cfg, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return ValidationResult{}, err
	}
	return s.ValidateDocument(cfg.JSONConfig), nil
}

// ValidateDocument validates a configuration document without storing
// it. A document that does not even decode yields a single blocking
// error rather than a Go error, so the editor gets a uniform shape.
func (s *Service) ValidateDocument(doc json.RawMessage) ValidationResult {
	g, err := ParseGraph(doc)
	if err != nil {
		return ValidationResult{
			Valid:  false,
			Errors: []Issue{{Type: IssueError, Message: fmt.Sprintf("configuration does not decode: %v", err)}},
		}
	}
	return Validate(g)
}

// Duplicate clones a stored configuration under a new name. Copies
// start out inactive at version 1.0.
func (s *Service) Duplicate(ctx context.Context, id int64, newName string) (*SurveyConfig, error) {
	src, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(newName)
	if name == "" {
		name = src.Name + " (copy)"
	}
	cfg := &SurveyConfig{
		Name:        name,
		Description: src.Description,
		JSONConfig:  src.JSONConfig,
		Version:     "1.0",
		IsActive:    false,
	}
	if err := s.repo.Create(ctx, cfg); err != nil {
		return nil, err
	}
	s.log.Info().Int64("source_id", id).Int64("survey_id", cfg.ID).Msg("survey config duplicated")
	return cfg, nil
}

// ExportEnvelope wraps a configuration for transfer between
// installations.
type ExportEnvelope struct {
	Name        string          `json:"name"`
	Description *string         `json:"description,omitempty"`
	Version     string          `json:"version"`
	ExportedAt  time.Time       `json:"exported_at"`
	Config      json.RawMessage `json:"config"`
}

func (s *Service) Export(ctx context.Context, id int64, now time.Time) (*ExportEnvelope, error) {
	cfg, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ExportEnvelope{
		Name:        cfg.Name,
		Description: cfg.Description,
		Version:     cfg.Version,
		ExportedAt:  now.UTC(),
		Config:      cfg.JSONConfig,
	}, nil
}

// Import accepts either an export envelope or a bare configuration
// document. Imports pass the validation gate and start out inactive.
func (s *Service) Import(ctx context.Context, raw json.RawMessage) (*SurveyConfig, error) {
	var env struct {
		Name        string          `json:"name"`
		Description *string         `json:"description"`
		Config      json.RawMessage `json:"config"`
	}
	_ = json.Unmarshal(raw, &env)

	doc := env.Config
	if len(doc) == 0 {
		doc = raw
	}
	cfg, err := s.buildConfig(doc)
	if err != nil {
		return nil, err
	}
	if env.Name != "" {
		cfg.Name = env.Name
	}
	if env.Description != nil {
		cfg.Description = env.Description
	}
	cfg.IsActive = false
	if err := s.repo.Create(ctx, cfg); err != nil {
		return nil, err
	}
	s.log.Info().Int64("survey_id", cfg.ID).Str("name", cfg.Name).Msg("survey config imported")
	return cfg, nil
}

// buildConfig decodes and validates a configuration document and maps
// it onto a storable row. Header fields live inside the document; the
// row columns mirror them for listing.
func (s *Service) buildConfig(doc json.RawMessage) (*SurveyConfig, error) {
	g, err := ParseGraph(doc)
	if err != nil {
		return nil, &InvalidGraphError{Result: ValidationResult{
			Errors: []Issue{{Type: IssueError, Message: fmt.Sprintf("configuration does not decode: %v", err)}},
		}}
	}
	if res := Validate(g); !res.Valid {
		return nil, &InvalidGraphError{Result: res}
	}
	name := strings.TrimSpace(g.Name)
	if name == "" {
		name = "Untitled survey"
	}
	version := g.Version
	if version == "" {
		version = "1.0"
	}
	return &SurveyConfig{
		Name:        name,
		Description: g.Description,
		JSONConfig:  doc,
		Version:     version,
	}, nil
}

// NodeTypeInfo describes one node type for the editor palette.
type NodeTypeInfo struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	Description         string `json:"description"`
	Icon                string `json:"icon"`
	Color               string `json:"color"`
	HasOptions          bool   `json:"has_options"`
	HasLogic            bool   `json:"has_logic"`
	HasAdditionalFields bool   `json:"has_additional_fields,omitempty"`
	HasMinMax           bool   `json:"has_min_max,omitempty"`
	CanBeFinal          bool   `json:"can_be_final,omitempty"`
}

// NodeTypes returns the editor's node palette.
func NodeTypes() []NodeTypeInfo {
	return []NodeTypeInfo{
		{ID: NodeSingleChoice, Name: "Single choice", Description: "Pick exactly one option from a list",
			Icon: "circle-dot", Color: "#3b82f6", HasOptions: true, HasLogic: true},
		{ID: NodeMultiChoice, Name: "Multiple choice", Description: "Pick any number of options",
			Icon: "check-square", Color: "#8b5cf6", HasOptions: true, HasLogic: true},
		{ID: NodeMultiChoiceWithInput, Name: "Choice with input", Description: "Multiple choice plus free-form extra fields",
			Icon: "list-plus", Color: "#a855f7", HasOptions: true, HasLogic: true, HasAdditionalFields: true},
		{ID: NodeTextInput, Name: "Free text", Description: "Free-form text answer",
			Icon: "type", Color: "#10b981", HasLogic: true},
		{ID: NodeSlider, Name: "Slider", Description: "Pick a value on a numeric scale",
			Icon: "sliders-horizontal", Color: "#f59e0b", HasLogic: true, HasMinMax: true},
		{ID: NodeBodyMap, Name: "Body map", Description: "Mark body zones and rate their intensity",
			Icon: "user", Color: "#ef4444", HasOptions: true, HasLogic: true, HasMinMax: true},
		{ID: NodeInfoScreen, Name: "Info screen", Description: "Display-only screen without input",
			Icon: "info", Color: "#6b7280", CanBeFinal: true},
		{ID: NodeConsentScreen, Name: "Consent screen", Description: "Personal data processing consent",
			Icon: "shield-check", Color: "#059669", HasLogic: true},
	}
}
