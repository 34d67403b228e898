package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/atomledger/internal/ir"
)

// DefaultStart is the clock origin of scenarios that do not set start.
var DefaultStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Scenario is one end-to-end ledger test.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Start is the RFC 3339 clock origin for event timestamps.
	Start string `yaml:"start,omitempty"`

	// Flow is executed in order.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// FlowStep is one operation against the registry.
type FlowStep struct {
	// Op is one of append, index, rebuild, verify.
	Op string `yaml:"op"`

	// Event is the event to append (append only).
	Event *EventStep `yaml:"event,omitempty"`

	// BatchSize bounds each indexer batch (index only).
	BatchSize int `yaml:"batch_size,omitempty"`

	// Expect checks the step outcome. If nil, the step must not be rejected.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// EventStep is the YAML form of an event.
type EventStep struct {
	AtomUID string `yaml:"atom_uid"`
	AtomKey string `yaml:"atom_key,omitempty"`
	Type    string `yaml:"event_type"`

	// At is a duration offset from the scenario start.
	At string `yaml:"at,omitempty"`

	Meta map[string]interface{} `yaml:"meta,omitempty"`
}

// ExpectClause specifies the expected step outcome.
type ExpectClause struct {
	Outcome string `yaml:"outcome"`

	// Codes must all appear among the rejection codes.
	Codes []string `yaml:"codes,omitempty"`
}

// Assertion validates the registry after the flow.
type Assertion struct {
	Type string `yaml:"type"`

	// UID is the subject atom (state, history_count, deps, dependents).
	UID string `yaml:"uid,omitempty"`

	// Expect holds entry fields to match (state). Subset match.
	Expect map[string]interface{} `yaml:"expect,omitempty"`

	// Count is the expected number of events (history_count).
	Count int `yaml:"count,omitempty"`

	// UIDs is the expected uid list (deps, dependents).
	UIDs []string `yaml:"uids,omitempty"`

	// Value is the expected watermark (watermark).
	Value int64 `yaml:"value,omitempty"`
}

// Flow operations.
const (
	OpAppend  = "append"
	OpIndex   = "index"
	OpRebuild = "rebuild"
	OpVerify  = "verify"
)

// Assertion type constants.
const (
	AssertState        = "state"
	AssertHistoryCount = "history_count"
	AssertDeps         = "deps"
	AssertDependents   = "dependents"
	AssertWatermark    = "watermark"
	AssertConsistent   = "consistent"
)

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

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// StartTime returns the parsed clock origin.
func (s *Scenario) StartTime() (time.Time, error) {
	if s.Start == "" {
		return DefaultStart, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.Start)
	if err != nil {
		return time.Time{}, fmt.Errorf("start: %w", err)
	}
	return t.UTC(), nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if _, err := s.StartTime(); err != nil {
		return err
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Flow {
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

func validateStep(index int, step *FlowStep) error {
	switch step.Op {
	case OpAppend:
		if step.Event == nil {
			return fmt.Errorf("flow[%d]: event is required for append", index)
		}
		if step.Event.AtomUID == "" {
			return fmt.Errorf("flow[%d]: event.atom_uid is required", index)
		}
		if step.Event.Type == "" {
			return fmt.Errorf("flow[%d]: event.event_type is required", index)
		}
		if step.Event.At != "" {
			if _, err := time.ParseDuration(step.Event.At); err != nil {
				return fmt.Errorf("flow[%d]: event.at: %w", index, err)
			}
		}
	case OpIndex, OpRebuild, OpVerify:
		if step.Event != nil {
			return fmt.Errorf("flow[%d]: event is only valid for append", index)
		}
	case "":
		return fmt.Errorf("flow[%d]: op is required", index)
	default:
		return fmt.Errorf("flow[%d]: unknown op %q", index, step.Op)
	}

	if step.Expect != nil && step.Expect.Outcome == "" {
		return fmt.Errorf("flow[%d].expect: outcome is required", index)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertState:
		if a.UID == "" {
			return fmt.Errorf("assertions[%d]: uid is required for state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for state", index)
		}
	case AssertHistoryCount:
		if a.UID == "" {
			return fmt.Errorf("assertions[%d]: uid is required for history_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for history_count", index)
		}
	case AssertDeps, AssertDependents:
		if a.UID == "" {
			return fmt.Errorf("assertions[%d]: uid is required for %s", index, a.Type)
		}
	case AssertWatermark, AssertConsistent:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// event converts the step into an ir.Event. A zero timestamp is left for
// the ledger clock to fill.
func (e *EventStep) event(start time.Time) (ir.Event, error) {
	t, err := ir.ParseEventType(e.Type)
	if err != nil {
		return ir.Event{}, err
	}
	meta, err := convertArgsToIRObject(e.Meta)
	if err != nil {
		return ir.Event{}, fmt.Errorf("meta: %w", err)
	}

	ev := ir.Event{AtomUID: e.AtomUID, AtomKey: e.AtomKey, Type: t, Meta: meta}
	if e.At != "" {
		d, err := time.ParseDuration(e.At)
		if err != nil {
			return ir.Event{}, fmt.Errorf("at: %w", err)
		}
		ev.Timestamp = start.Add(d)
	}
	return ev, nil
}

// convertArgsToIRObject converts a YAML map to ir.IRObject.
func convertArgsToIRObject(args map[string]interface{}) (ir.IRObject, error) {
	if args == nil {
		return ir.IRObject{}, nil
	}

	result := make(ir.IRObject)
	for key, val := range args {
		irVal, err := convertToIRValue(val)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		result[key] = irVal
	}
	return result, nil
}

// convertToIRValue converts a YAML-parsed value to an IRValue.
// Nulls and non-integral numbers are rejected since canonical JSON
// forbids them.
func convertToIRValue(val interface{}) (ir.IRValue, error) {
	if val == nil {
		return nil, fmt.Errorf("null values are forbidden in IR (canonical JSON does not support null)")
	}

	switch v := val.(type) {
	case string:
		return ir.IRString(v), nil
	case int:
		return ir.IRInt(int64(v)), nil
	case int64:
		return ir.IRInt(v), nil
	case float64:
		if v == float64(int64(v)) {
			return ir.IRInt(int64(v)), nil
		}
		return nil, fmt.Errorf("floats are forbidden in IR: %v", v)
	case bool:
		return ir.IRBool(v), nil
	case []interface{}:
		arr := make(ir.IRArray, len(v))
		for i, elem := range v {
			irElem, err := convertToIRValue(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = irElem
		}
		return arr, nil
	case map[string]interface{}:
		obj, err := convertArgsToIRObject(v)
		if err != nil {
			return nil, err
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported type %T", val)
	}
}
