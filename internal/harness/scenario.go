package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines a sequence of store operations and the expected final
// state.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Codec selects the snapshot codec ("none" or "zstd"). Empty means none.
	Codec string `yaml:"codec,omitempty"`

	// Steps are executed in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one store operation.
type Step struct {
	Op       string         `yaml:"op"`
	Template string         `yaml:"template,omitempty"`
	Record   string         `yaml:"record,omitempty"`
	Author   string         `yaml:"author,omitempty"`
	Data     map[string]any `yaml:"data,omitempty"`

	// Version is the export version (0 = latest).
	Version  int    `yaml:"version,omitempty"`
	Artifact string `yaml:"artifact,omitempty"`
	Purpose  string `yaml:"purpose,omitempty"`

	From int `yaml:"from,omitempty"`
	To   int `yaml:"to,omitempty"`

	// Fault is the save stage before which the store fails.
	Fault string `yaml:"fault,omitempty"`

	// Expect validates the outcome. Nil means the step must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect specifies the expected outcome of a step.
type Expect struct {
	// Error is the expected error kind (NOT_FOUND, CONFLICT, CORRUPT, IO,
	// VALIDATION). Empty means success.
	Error string `yaml:"error,omitempty"`

	// Stage is the expected failed save stage.
	Stage string `yaml:"stage,omitempty"`

	Version int      `yaml:"version,omitempty"`
	Created *bool    `yaml:"created,omitempty"`
	Changed []string `yaml:"changed,omitempty"`
}

// Assertion validates the final state.
type Assertion struct {
	Type     string `yaml:"type"`
	Template string `yaml:"template,omitempty"`
	Record   string `yaml:"record,omitempty"`

	// Expect holds document fields (used by document). Subset match.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number (used by the *_count types).
	Count int `yaml:"count"`

	// Op and Outcome select trace steps (used by trace_count).
	Op      string `yaml:"op,omitempty"`
	Outcome string `yaml:"outcome,omitempty"`
}

// Step operations.
const (
	OpSave   = "save"
	OpExport = "export"
	OpDiff   = "diff"
	OpReopen = "reopen"
)

// Assertion type constants.
const (
	AssertDocument     = "document"
	AssertVersionCount = "version_count"
	AssertExportCount  = "export_count"
	AssertOrphanCount  = "orphan_count"
	AssertTraceCount   = "trace_count"
)

var faultStages = map[string]bool{
	"blob_written":    true,
	"index_committed": true,
	"persisted":       true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st *Step) error {
	needRecord := func() error {
		if st.Template == "" || st.Record == "" {
			return fmt.Errorf("steps[%d]: template and record are required for %s", index, st.Op)
		}
		return nil
	}

	switch st.Op {
	case OpSave:
		if err := needRecord(); err != nil {
			return err
		}
		if st.Data == nil {
			return fmt.Errorf("steps[%d]: data is required for save (use {} for an empty payload)", index)
		}
		if st.Fault != "" && !faultStages[st.Fault] {
			return fmt.Errorf("steps[%d]: unknown fault stage %q", index, st.Fault)
		}
	case OpExport:
		if err := needRecord(); err != nil {
			return err
		}
		if st.Artifact == "" {
			return fmt.Errorf("steps[%d]: artifact is required for export", index)
		}
	case OpDiff:
		if err := needRecord(); err != nil {
			return err
		}
		if st.From < 1 || st.To < 1 {
			return fmt.Errorf("steps[%d]: from and to are required for diff", index)
		}
	case OpReopen:
	case "":
		return fmt.Errorf("steps[%d]: op is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, st.Op)
	}

	if st.Fault != "" && st.Op != OpSave {
		return fmt.Errorf("steps[%d]: fault only applies to save", index)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertDocument:
		if a.Template == "" || a.Record == "" {
			return fmt.Errorf("assertions[%d]: template and record are required for document", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for document", index)
		}
	case AssertVersionCount, AssertExportCount:
		if a.Template == "" || a.Record == "" {
			return fmt.Errorf("assertions[%d]: template and record are required for %s", index, a.Type)
		}
	case AssertOrphanCount:
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}
	return nil
}
