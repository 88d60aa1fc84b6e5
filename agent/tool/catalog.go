package tool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/healthguard-agent/agent/contract"
	statex "github.com/tanpawarit/healthguard-agent/agent/state"
)

// Capability is one of the closed set of tool families: Medication, Symptom,
// MedicalInfo and HealthAnalysis. The unexported method keeps the set closed
// to this package.
type Capability interface {
	Kind() contractx.CapabilityKind
	Specs() []contractx.ToolSpec
	Invoke(ctx context.Context, call Call) (any, error)
	capability()
}

type sealed struct{}

func (sealed) capability() {}

// Call is one validated tool invocation.
type Call struct {
	PatientID string
	Tool      string
	Args      Args
	Now       time.Time
	Location  *time.Location
}

type entry struct {
	spec contractx.ToolSpec
	cap  Capability
}

type CatalogOption func(*Catalog)

func WithClock(now func() time.Time) CatalogOption {
	return func(c *Catalog) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLocation sets the zone used for bare clock times and day boundaries.
func WithLocation(loc *time.Location) CatalogOption {
	return func(c *Catalog) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// Catalog validates tool calls against the registered specs and dispatches
// them to their capability.
type Catalog struct {
	tools map[string]entry
	order []string
	kinds map[contractx.CapabilityKind]bool
	now   func() time.Time
	loc   *time.Location
}

var _ contractx.ToolGateway = (*Catalog)(nil)

func NewCatalog(caps []Capability, opts ...CatalogOption) (*Catalog, error) {
	c := &Catalog{
		tools: make(map[string]entry),
		kinds: make(map[contractx.CapabilityKind]bool),
		now:   time.Now,
		loc:   time.UTC,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	for _, cp := range caps {
		if cp == nil {
			continue
		}
		kind := cp.Kind()
		if !kind.Valid() {
			return nil, fmt.Errorf("%w: unknown capability kind %q", contractx.ErrValidation, kind)
		}
		if c.kinds[kind] {
			return nil, fmt.Errorf("%w: capability %q registered twice", contractx.ErrValidation, kind)
		}
		c.kinds[kind] = true

		for _, spec := range cp.Specs() {
			if _, dup := c.tools[spec.Name]; dup {
				return nil, fmt.Errorf("%w: tool %q registered twice", contractx.ErrValidation, spec.Name)
			}
			spec.Capability = kind
			c.tools[spec.Name] = entry{spec: spec, cap: cp}
			c.order = append(c.order, spec.Name)
		}
	}
	sort.Strings(c.order)
	return c, nil
}

// Specs returns the registered tools sorted by name.
func (c *Catalog) Specs() []contractx.ToolSpec {
	out := make([]contractx.ToolSpec, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.tools[name].spec)
	}
	return out
}

func (c *Catalog) Has(kind contractx.CapabilityKind) bool {
	return c.kinds[kind]
}

func (c *Catalog) Location() *time.Location {
	return c.loc
}

// Execute validates req and invokes the owning capability. Failures are
// returned both as err and in the result's Error field.
func (c *Catalog) Execute(ctx context.Context, patientID string, req contractx.ToolRequest) (contractx.ToolResult, error) {
	res := contractx.ToolResult{Tool: req.Tool}

	e, ok := c.tools[req.Tool]
	if !ok {
		err := fmt.Errorf("%w: %q is not registered (available: %v)", contractx.ErrUnknownTool, req.Tool, c.order)
		res.Error = err.Error()
		return res, err
	}

	args, err := Coerce(req.Tool, e.spec.Params, req.Args)
	if err != nil {
		res.Error = err.Error()
		return res, err
	}

	out, err := e.cap.Invoke(ctx, Call{
		PatientID: patientID,
		Tool:      req.Tool,
		Args:      args,
		Now:       c.now().UTC(),
		Location:  c.loc,
	})
	if err != nil {
		err = translate(err)
		log.Debug().
			Str("patient_id", patientID).
			Str("tool", req.Tool).
			Str("error_kind", contractx.ErrorKind(err)).
			Err(err).
			Msg("tool failed")
		res.Error = err.Error()
		return res, err
	}

	res.Result = out
	return res, nil
}

// translate maps store sentinels onto the tool error taxonomy.
func translate(err error) error {
	switch {
	case errors.Is(err, contractx.ErrNotFound),
		errors.Is(err, contractx.ErrAlreadyExists),
		errors.Is(err, contractx.ErrInvalidArguments),
		errors.Is(err, contractx.ErrOutOfRange),
		errors.Is(err, contractx.ErrProviderUnavailable):
		return err
	case errors.Is(err, statex.ErrMedicationNotFound), errors.Is(err, statex.ErrPatientNotFound):
		return fmt.Errorf("%w: %v", contractx.ErrNotFound, err)
	case errors.Is(err, statex.ErrMedicationExists):
		return fmt.Errorf("%w: %v", contractx.ErrAlreadyExists, err)
	case errors.Is(err, statex.ErrInvalidRecord):
		return fmt.Errorf("%w: %v", contractx.ErrInvalidArguments, err)
	default:
		return err
	}
}
