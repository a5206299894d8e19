package tsncase

// assemble.go puts the generators together: a Case is made by laying out a topology, drawing
// streams over it, admitting the streams into it, and validating the result.  The case
// identifier is derived from the parameters alone, so the same parameters always name, and
// regenerate, the same case.

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// caseNamespace scopes the name-based UUIDs used as case identifiers
var caseNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("tsncase"))

// random number streams drawn from a case's seed
const (
	topologyStream = 1
	streamsStream  = 2
)

// CaseID returns the identifier of the case the parameters generate.  It is a name-based
// (SHA-1) UUID of the parameters' JSON encoding, taken after absent lists are made empty, so
// parameters read back from a case file give the identifier stored with them.
func CaseID(p *Params) (string, error) {
	bytes, err := json.Marshal(p.Clone())
	if err != nil {
		return "", err
	}
	return uuid.NewSHA1(caseNamespace, bytes).String(), nil
}

// CaseGen generates and validates cases, logging and counting what it does.  A CaseGen holds
// no state that changes between calls and may be shared by goroutines.
type CaseGen struct {
	logger  *zap.Logger
	metrics *Metrics

	// attach a generation trace to every case
	Trace bool
}

// CreateCaseGen is a constructor.  A nil logger logs nothing, nil metrics count nothing.
func CreateCaseGen(logger *zap.Logger, m *Metrics) *CaseGen {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CaseGen{logger: logger, metrics: m}
}

// Generate builds the case the parameters describe and validates it.  A case that fails
// validation is still returned, with the result saying why.  Errors of the generators are
// returned as they are; in all-or-nothing mode an admission failure is returned as an
// *AdmissionError and no case is made.
func (cg *CaseGen) Generate(p *Params) (*Case, *ValidationResult, error) {
	start := time.Now()
	c, vr, err := cg.generate(p)
	cg.metrics.ObserveCase(c, vr, err, time.Since(start))
	return c, vr, err
}

func (cg *CaseGen) generate(p *Params) (*Case, *ValidationResult, error) {
	if p == nil {
		p = DefaultParams()
	}
	p = p.Clone()
	if err := p.Validate(); err != nil {
		return nil, nil, err
	}
	mode, _ := AdmissionModeFromStr(p.AdmissionMode)
	id, err := CaseID(p)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	logger := cg.logger.With(zap.String("case_id", id), zap.String("case", p.Name), zap.Uint64("seed", p.Seed))

	c := &Case{ID: id, Params: p, Trace: CreateTraceManager(p.Name, cg.Trace)}

	topoRng := rand.New(rand.NewPCG(p.Seed, topologyStream))
	c.Topology, err = GenerateTopology(p.Name, p, topoRng)
	if err != nil {
		logger.Warn("topology generation failed", zap.Error(err))
		return nil, nil, err
	}
	logger.Debug("topology generated", zap.Int("nodes", len(c.Topology.Nodes)), zap.Int("links", len(c.Topology.Links)))
	AddTopoTraces(c.Trace, c.Topology)

	strmRng := rand.New(rand.NewPCG(p.Seed, streamsStream))
	c.Streams, err = GenerateStreams(c.Topology, p, strmRng)
	if err != nil {
		logger.Warn("stream generation failed", zap.Error(err))
		return nil, nil, err
	}
	logger.Debug("streams generated", zap.Int("streams", len(c.Streams)))
	AddStreamTraces(c.Trace, c.Topology, c.Streams)

	adm, err := RouteStreams(c.Topology, c.Streams, mode, p.CostWeight)
	if err != nil {
		logger.Warn("case abandoned", zap.String("mode", p.AdmissionMode), zap.Error(err))
		return nil, nil, err
	}
	c.Routes = adm.Routes
	c.Failures = adm.Failures
	for _, failure := range c.Failures {
		logger.Info("stream not admitted", zap.String("stream", failure.Stream),
			zap.String("reason", AdmissionKind(failure)), zap.Error(failure.Err))
	}
	AddAdmitTraces(c.Trace, c.Streams, c.Routes, c.Failures)

	vr, err := ValidateCase(c)
	if err != nil {
		return c, nil, err
	}
	AddValidateTraces(c.Trace, vr)
	if !c.Trace.Active() {
		c.Trace = nil
	}

	logger.Info("case generated", zap.Int("nodes", len(c.Topology.Nodes)), zap.Int("links", len(c.Topology.Links)),
		zap.Int("streams", len(c.Streams)), zap.Int("routes", len(c.Routes)),
		zap.Bool("pass", vr.Pass), zap.Int("violations", len(vr.Violations)))
	return c, vr, nil
}

// Validate checks a case, logging the violations found
func (cg *CaseGen) Validate(c *Case) (*ValidationResult, error) {
	vr, err := ValidateCase(c)
	if err != nil {
		return nil, err
	}
	cg.report(c.ID, vr)
	return vr, nil
}

// ValidateDesc checks a case description, logging the violations found
func (cg *CaseGen) ValidateDesc(cd *CaseDesc) (*ValidationResult, error) {
	vr, err := ValidateDesc(cd)
	if err != nil {
		return nil, err
	}
	cg.report(cd.ID, vr)
	return vr, nil
}

func (cg *CaseGen) report(id string, vr *ValidationResult) {
	cg.metrics.ObserveValidation(vr)
	for _, v := range vr.Violations {
		cg.logger.Debug("violation", zap.String("case_id", id), zap.String("check", v.Check), zap.String("detail", v.Detail))
	}
	cg.logger.Info("case validated", zap.String("case_id", id), zap.Bool("pass", vr.Pass),
		zap.Int("violations", len(vr.Violations)))
}

// Regenerate rebuilds the case with the given identifier from its parameters.  The identifier
// must be the one the parameters produce, otherwise ErrCaseIDMismatch is returned.
func (cg *CaseGen) Regenerate(caseID string, p *Params) (*Case, error) {
	if p == nil {
		p = DefaultParams()
	}
	id, err := CaseID(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	if id != caseID {
		return nil, fmt.Errorf("%w: parameters give %s, asked for %s", ErrCaseIDMismatch, id, caseID)
	}
	c, _, err := cg.Generate(p)
	return c, err
}

// Generate builds and validates a case without logging or metrics
func Generate(p *Params) (*Case, *ValidationResult, error) {
	return CreateCaseGen(nil, nil).Generate(p)
}

// Validate checks a case
func Validate(c *Case) (*ValidationResult, error) {
	return ValidateCase(c)
}

// Regenerate rebuilds the case with the given identifier from its parameters
func Regenerate(caseID string, p *Params) (*Case, error) {
	return CreateCaseGen(nil, nil).Regenerate(caseID, p)
}

// ErrorKind names the class of a generation error, for metric labels and summaries
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidParams):
		return "invalid-params"
	case errors.Is(err, ErrInfeasibleTopology):
		return "infeasible-topology"
	case errors.Is(err, ErrUnsatisfiableStream):
		return "unsatisfiable-stream"
	case errors.Is(err, ErrMalformedCase):
		return "malformed-case"
	}
	if kind := AdmissionKind(err); kind != "unknown" {
		return kind
	}
	return "error"
}
