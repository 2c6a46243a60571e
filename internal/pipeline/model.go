// Package pipeline turns an envelope into the ordered sequence of bus calls
// configured for the gateway and merges the replies back into it.
package pipeline

import (
	"fmt"
	"slices"
	"strings"

	"natsgate/internal/config"
	"natsgate/internal/constants"
	"natsgate/pkg/cel"
)

type Direction int

const (
	DirectionIncoming Direction = iota
	DirectionOutgoing
	DirectionBoth
)

func (d Direction) String() string {
	switch d {
	case DirectionIncoming:
		return constants.DirectionIncoming
	case DirectionOutgoing:
		return constants.DirectionOutgoing
	case DirectionBoth:
		return constants.DirectionBoth
	default:
		return "unknown"
	}
}

func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case constants.DirectionIncoming:
		return DirectionIncoming, nil
	case constants.DirectionOutgoing:
		return DirectionOutgoing, nil
	case constants.DirectionBoth:
		return DirectionBoth, nil
	default:
		return 0, fmt.Errorf("unknown step direction %q", s)
	}
}

type Pattern int

const (
	PatternRequest Pattern = iota
	PatternPublish
)

func (p Pattern) String() string {
	switch p {
	case PatternRequest:
		return constants.PatternRequest
	case PatternPublish:
		return constants.PatternPublish
	default:
		return "unknown"
	}
}

// ParsePattern parses a step pattern. An empty value means request.
func ParsePattern(s string) (Pattern, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case constants.PatternRequest, "":
		return PatternRequest, nil
	case constants.PatternPublish:
		return PatternPublish, nil
	default:
		return 0, fmt.Errorf("unknown step pattern %q", s)
	}
}

// Step is one remote call. Subject "*" targets the envelope's own subject.
// A Step with a Condition only runs when the condition holds.
type Step struct {
	Subject   string
	Direction Direction
	Order     int
	Pattern   Pattern
	Condition *cel.Condition
}

// EffectiveSubject resolves the wildcard against the envelope subject.
func (s Step) EffectiveSubject(envelopeSubject string) string {
	if s.Subject == constants.WildcardSubject {
		return envelopeSubject
	}
	return s.Subject
}

func (s Step) runsIncoming() bool {
	return s.Direction == DirectionIncoming || s.Direction == DirectionBoth
}

func (s Step) runsOutgoing() bool {
	return s.Direction == DirectionOutgoing || s.Direction == DirectionBoth
}

// Pipeline holds the configured steps, the observer subjects and the two
// derived execution orders.
type Pipeline struct {
	Steps     []Step
	Observers []string

	incoming []Step
	outgoing []Step
}

// New derives the incoming view (ascending order) and the outgoing view
// (descending order). Steps sharing an order keep their configured position.
func New(steps []Step, observers []string) *Pipeline {
	p := &Pipeline{
		Steps:     steps,
		Observers: observers,
	}

	for _, s := range steps {
		if s.runsIncoming() {
			p.incoming = append(p.incoming, s)
		}
		if s.runsOutgoing() {
			p.outgoing = append(p.outgoing, s)
		}
	}

	slices.SortStableFunc(p.incoming, func(a, b Step) int { return a.Order - b.Order })
	slices.SortStableFunc(p.outgoing, func(a, b Step) int { return b.Order - a.Order })

	return p
}

// Default forwards the request to its own subject and nothing else.
func Default() *Pipeline {
	return New([]Step{{
		Subject:   constants.WildcardSubject,
		Direction: DirectionIncoming,
		Order:     1,
		Pattern:   PatternRequest,
	}}, nil)
}

func (p *Pipeline) Incoming() []Step {
	return p.incoming
}

func (p *Pipeline) Outgoing() []Step {
	return p.outgoing
}

// Build validates a pipeline file. eval is only needed when a step declares a
// condition; nil creates one on demand.
func Build(cfg *config.PipelineConfig, eval *cel.Evaluator) (*Pipeline, error) {
	if cfg == nil || (len(cfg.Steps) == 0 && len(cfg.Observers) == 0) {
		return Default(), nil
	}

	steps := make([]Step, 0, len(cfg.Steps))
	for i, sc := range cfg.Steps {
		if sc.Subject == "" {
			return nil, &config.ValidationError{Field: fmt.Sprintf("steps[%d].subject", i), Message: "step subject is required"}
		}

		direction, err := ParseDirection(sc.Direction)
		if err != nil {
			return nil, &config.ValidationError{Field: fmt.Sprintf("steps[%d].direction", i), Message: err.Error()}
		}

		pattern, err := ParsePattern(sc.Pattern)
		if err != nil {
			return nil, &config.ValidationError{Field: fmt.Sprintf("steps[%d].pattern", i), Message: err.Error()}
		}

		step := Step{
			Subject:   sc.Subject,
			Direction: direction,
			Order:     sc.Order,
			Pattern:   pattern,
		}

		if sc.Condition != "" {
			if eval == nil {
				if eval, err = cel.NewEvaluator(); err != nil {
					return nil, err
				}
			}
			if step.Condition, err = eval.Compile(sc.Condition); err != nil {
				return nil, &config.ValidationError{Field: fmt.Sprintf("steps[%d].condition", i), Message: err.Error()}
			}
		}

		steps = append(steps, step)
	}

	observers := make([]string, 0, len(cfg.Observers))
	for i, oc := range cfg.Observers {
		if oc.Subject == "" {
			return nil, &config.ValidationError{Field: fmt.Sprintf("observers[%d].subject", i), Message: "observer subject is required"}
		}
		observers = append(observers, oc.Subject)
	}

	return New(steps, observers), nil
}
