// Package tuning loads simulation parameters from YAML. Documents are
// validated against an embedded JSON schema before decoding; omitted fields
// keep their defaults.
package tuning

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed tuning.schema.json
var schemaJSON string

type Tuning struct {
	TickRateHz      int   `yaml:"tick_rate_hz" json:"tick_rate_hz"`
	MaxPastTicks    int64 `yaml:"max_past_ticks" json:"max_past_ticks"`
	MaxFutureTicks  int64 `yaml:"max_future_ticks" json:"max_future_ticks"`
	MaxStoredTicks  int64 `yaml:"max_stored_ticks" json:"max_stored_ticks"`
	MaxCatchUpTicks int   `yaml:"max_catch_up_ticks" json:"max_catch_up_ticks"`

	World World `yaml:"world" json:"world"`

	SpawnHP             int32 `yaml:"spawn_hp" json:"spawn_hp"`
	FlowProgressPerTick uint8 `yaml:"flow_progress_per_tick" json:"flow_progress_per_tick"`
	FlowMaxStage        uint8 `yaml:"flow_max_stage" json:"flow_max_stage"`

	SnapshotEveryTicks int64 `yaml:"snapshot_every_ticks" json:"snapshot_every_ticks"`
	ResumeGraceTicks   int64 `yaml:"resume_grace_ticks" json:"resume_grace_ticks"`
	StableSampleOrder  bool  `yaml:"stable_sample_order" json:"stable_sample_order"`

	Ingress   Ingress   `yaml:"ingress" json:"ingress"`
	Transport Transport `yaml:"transport" json:"transport"`
}

type World struct {
	Width  int32 `yaml:"width" json:"width"`
	Height int32 `yaml:"height" json:"height"`
}

type Ingress struct {
	CommandsPerSecond float64 `yaml:"commands_per_second" json:"commands_per_second"`
	CommandsBurst     int     `yaml:"commands_burst" json:"commands_burst"`
	PingsPerSecond    float64 `yaml:"pings_per_second" json:"pings_per_second"`
}

type Transport struct {
	ReliableQueue int `yaml:"reliable_queue" json:"reliable_queue"`
	SampleQueue   int `yaml:"sample_queue" json:"sample_queue"`
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz:          20,
		MaxPastTicks:        2,
		MaxFutureTicks:      2,
		MaxStoredTicks:      8,
		MaxCatchUpTicks:     5,
		World:               World{Width: 256, Height: 256},
		SpawnHP:             100,
		FlowProgressPerTick: 16,
		FlowMaxStage:        3,
		SnapshotEveryTicks:  1200,
		ResumeGraceTicks:    200,
		Ingress: Ingress{
			CommandsPerSecond: 60,
			CommandsBurst:     30,
			PingsPerSecond:    4,
		},
		Transport: Transport{ReliableQueue: 256, SampleQueue: 4},
	}
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiled() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("tuning.schema.json", schemaJSON)
	})
	return schema, schemaErr
}

func Load(path string) (Tuning, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Tuning{}, err
	}
	t, err := Parse(raw)
	if err != nil {
		return t, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Parse validates and decodes a YAML document over Defaults.
func Parse(raw []byte) (Tuning, error) {
	t := Defaults()
	if err := Validate(raw); err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning yaml: %w", err)
	}
	return t, nil
}

// Validate checks a YAML document against the schema.
func Validate(raw []byte) error {
	s, err := compiled()
	if err != nil {
		return fmt.Errorf("tuning schema: %w", err)
	}
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("tuning yaml: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	// Round-trip through JSON so numbers and maps have the shapes the
	// validator expects.
	jb, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("tuning yaml: %w", err)
	}
	var v any
	if err := json.NewDecoder(bytes.NewReader(jb)).Decode(&v); err != nil {
		return fmt.Errorf("tuning yaml: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("tuning invalid: %w", err)
	}
	return nil
}
