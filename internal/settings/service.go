// Package settings validates gateway credential sets before they are saved:
// first against declarative per-field rules, then with a live connectivity
// probe using the submitted credentials.
package settings

import (
	"context"
	"errors"
	"strings"

	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/billing-gateway/internal/obs"
)

// ErrUnknownGateway is returned for a gateway without registered rules.
var ErrUnknownGateway = errors.New("settings: unknown gateway")

// Rule binds one credential field to a validator tag.
type Rule struct {
	Field string
	Tag   string
}

// Prober is the connectivity check a candidate credential set must pass.
type Prober interface {
	VerifyConnection(ctx context.Context) error
}

// Factory builds a throwaway gateway client from submitted fields.
type Factory func(fields map[string]string) (Prober, error)

// FieldErrors maps failed fields to the rule they broke.
type FieldErrors map[string]string

// Service validates credential sets per gateway.
type Service struct {
	Rules     map[string][]Rule
	Factories map[string]Factory
	Validate  *validator.Validate
}

// Check runs the field rules and, when they pass, the live probe. Field
// failures are reported per field; a probe failure is returned as error.
func (s *Service) Check(ctx context.Context, name string, fields map[string]string) (FieldErrors, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	rules, ok := s.Rules[name]
	if !ok {
		return nil, ErrUnknownGateway
	}

	failed := FieldErrors{}
	for _, rule := range rules {
		if err := s.Validate.Var(fields[rule.Field], rule.Tag); err != nil {
			failed[rule.Field] = rule.Tag
		}
	}
	if len(failed) > 0 {
		s.count(name, "invalid_fields")
		return failed, nil
	}

	factory, ok := s.Factories[name]
	if !ok {
		s.count(name, "ok")
		return nil, nil
	}
	prober, err := factory(fields)
	if err != nil {
		s.count(name, "error")
		return nil, err
	}
	if err := prober.VerifyConnection(ctx); err != nil {
		s.count(name, "unreachable")
		return nil, err
	}
	s.count(name, "ok")
	return nil, nil
}

func (s *Service) count(name, result string) {
	if obs.ProbeTotal != nil {
		obs.ProbeTotal.WithLabelValues(name, result).Inc()
	}
}
