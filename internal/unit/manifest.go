package unit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/troupe-sh/troupe/pkg/schema"
)

// ManifestName is the workflow manifest file inside a workflow directory.
const ManifestName = "troupe.yaml"

// Manifest is the per-workflow configuration shipped alongside the state
// units. All fields are optional; zero values fall back to defaults.
type Manifest struct {
	InitialState   string        // default "START"
	BudgetUSD      float64       // <= 0 means unlimited
	Model          string        // default model hint for prompt units
	StepTimeout    time.Duration // default 10m
	MaxParallel    int           // concurrent step tasks, default 4
	AutoWait       bool          // auto-resume on provider rate limits, default true
	PermissionMode string        // claude CLI permission mode, default "bypassPermissions"
}

const manifestSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://troupe.sh/schemas/manifest.json",
  "type": "object",
  "properties": {
    "initial_state": { "type": "string", "minLength": 1 },
    "budget_usd": { "type": "number" },
    "model": { "type": "string" },
    "step_timeout": { "type": "string", "pattern": "^[0-9]+(ns|us|µs|ms|s|m|h)$" },
    "max_parallel": { "type": "integer", "minimum": 1 },
    "auto_wait": { "type": "boolean" },
    "permission_mode": {
      "type": "string",
      "enum": ["default", "acceptEdits", "bypassPermissions", "plan"]
    }
  },
  "additionalProperties": false
}`

// toJSONValue round-trips a decoded YAML value through JSON so the schema
// validator sees json-package value types.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

var (
	manifestOnce   sync.Once
	manifestSchema *jsonschema.Schema
	manifestErr    error
)

func compiledManifestSchema() (*jsonschema.Schema, error) {
	manifestOnce.Do(func() {
		c := jsonschema.NewCompiler()
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(manifestSchemaJSON))
		if err != nil {
			manifestErr = fmt.Errorf("unmarshal manifest schema: %w", err)
			return
		}
		if err := c.AddResource("https://troupe.sh/schemas/manifest.json", doc); err != nil {
			manifestErr = fmt.Errorf("add manifest schema resource: %w", err)
			return
		}
		manifestSchema, manifestErr = c.Compile("https://troupe.sh/schemas/manifest.json")
	})
	return manifestSchema, manifestErr
}

// DefaultManifest returns a manifest with every default applied.
func DefaultManifest() *Manifest {
	return &Manifest{
		InitialState:   "START",
		StepTimeout:    10 * time.Minute,
		MaxParallel:    4,
		AutoWait:       true,
		PermissionMode: "bypassPermissions",
	}
}

// LoadManifest reads and validates troupe.yaml from the workflow directory.
// A missing manifest yields the defaults.
func LoadManifest(dir string) (*Manifest, error) {
	raw, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if os.IsNotExist(err) {
		return DefaultManifest(), nil
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"read %s: %s", ManifestName, err.Error()).WithCause(err)
	}

	var decoded map[string]any
	if err := yaml.Unmarshal(raw, &decoded); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"%s is not valid YAML: %s", ManifestName, err.Error()).WithCause(err)
	}
	if decoded == nil {
		return DefaultManifest(), nil
	}

	sch, err := compiledManifestSchema()
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "manifest schema unavailable").WithCause(err)
	}
	doc, err := toJSONValue(decoded)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "serialize manifest").WithCause(err)
	}
	if err := sch.Validate(doc); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"%s rejected by schema: %s", ManifestName, err.Error()).WithCause(err)
	}

	m := DefaultManifest()
	if v, ok := decoded["initial_state"].(string); ok {
		m.InitialState = v
	}
	switch v := decoded["budget_usd"].(type) {
	case float64:
		m.BudgetUSD = v
	case int:
		m.BudgetUSD = float64(v)
	}
	if v, ok := decoded["model"].(string); ok {
		m.Model = v
	}
	if v, ok := decoded["step_timeout"].(string); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"step_timeout %q: %s", v, err.Error())
		}
		m.StepTimeout = d
	}
	if v, ok := decoded["max_parallel"].(int); ok {
		m.MaxParallel = v
	}
	if v, ok := decoded["auto_wait"].(bool); ok {
		m.AutoWait = v
	}
	if v, ok := decoded["permission_mode"].(string); ok {
		m.PermissionMode = v
	}
	return m, nil
}

// Budgeted reports whether the manifest sets a cost ceiling.
func (m *Manifest) Budgeted() bool { return m.BudgetUSD > 0 }
