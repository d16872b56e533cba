// Package access answers "may this session use this experience?" by asking
// the provider on behalf of the credential's subject.
package access

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dzerik/oauth-relay/internal/model"
	"github.com/dzerik/oauth-relay/internal/service/credential"
	"github.com/dzerik/oauth-relay/internal/service/metrics"
	"github.com/dzerik/oauth-relay/pkg/logger"
	"github.com/dzerik/oauth-relay/pkg/tracing"
)

var (
	ErrMissingResource   = errors.New("missing required parameter: experienceId")
	ErrInvalidResource   = errors.New(`invalid experienceId format, must start with "exp_"`)
	ErrAccessCheckFailed = errors.New("failed to verify access with provider")
)

// Check outcomes, used as metric labels.
const (
	ResultGranted           = "granted"
	ResultDenied            = "denied"
	ResultInvalidResource   = "invalid_resource"
	ResultInvalidCredential = "invalid_credential"
	ResultProviderError     = "provider_error"
)

// Verifier validates session credentials.
type Verifier interface {
	Verify(token string) (*credential.Subject, error)
}

// Checker asks the provider for access decisions.
type Checker interface {
	CheckAccess(ctx context.Context, userID, experienceID string) (*model.AccessDecision, error)
}

// Gateway checks a credential's access to a provider experience.
type Gateway struct {
	verifier Verifier
	checker  Checker
	metrics  *metrics.Metrics
}

// NewGateway creates a gateway. m may be nil.
func NewGateway(verifier Verifier, checker Checker, m *metrics.Metrics) *Gateway {
	return &Gateway{verifier: verifier, checker: checker, metrics: m}
}

// ValidateResource checks the experience id shape.
func ValidateResource(resourceID string) error {
	if resourceID == "" {
		return ErrMissingResource
	}
	if !strings.HasPrefix(resourceID, model.ExperienceIDPrefix) {
		return ErrInvalidResource
	}
	return nil
}

// Check validates the resource id, then the credential, then asks the
// provider. A malformed resource id is rejected before the credential is
// looked at and without a provider call.
func (g *Gateway) Check(ctx context.Context, token, resourceID string) (*model.AccessCheckResult, error) {
	ctx, span := tracing.Start(ctx, "access.check")
	var err error
	defer func() { tracing.Finish(span, err) }()

	if err = ValidateResource(resourceID); err != nil {
		g.metrics.RecordAccessCheck(ResultInvalidResource)
		return nil, err
	}
	span.SetAttributes(tracing.AttrExperienceID.String(resourceID))

	subject, err := g.verifier.Verify(token)
	if err != nil {
		g.metrics.RecordAccessCheck(ResultInvalidCredential)
		return nil, err
	}
	span.SetAttributes(tracing.AttrUserID.String(subject.UserID))

	decision, err := g.checker.CheckAccess(ctx, subject.UserID, resourceID)
	if err != nil {
		g.metrics.RecordAccessCheck(ResultProviderError)
		logger.FromContext(ctx).Warn("provider access check failed",
			zap.String("user_id", subject.UserID),
			zap.String("experience_id", resourceID),
			zap.Error(err),
		)
		err = fmt.Errorf("%w: %w", ErrAccessCheckFailed, err)
		return nil, err
	}
	decision.Normalize()

	result := ResultDenied
	if decision.HasAccess {
		result = ResultGranted
	}
	g.metrics.RecordAccessCheck(result)

	return &model.AccessCheckResult{
		HasAccess:    decision.HasAccess,
		AccessLevel:  decision.AccessLevel,
		UserID:       subject.UserID,
		ExperienceID: resourceID,
	}, nil
}
