// Package service contains the business logic layer.
//
// This file implements the tenant service: resolving external identities
// to organizations, plan changes, and API key management.
package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/karat-app/karat/internal/admission"
	"github.com/karat-app/karat/internal/domain"
	"github.com/karat-app/karat/internal/metrics"
	"github.com/karat-app/karat/internal/repository"
)

// External identity prefixes. A chat identity is stored verbatim
// ("chat:42"); an API identity embeds the key ID ("api:<key_id>").
const (
	identityPrefixChat = "chat:"
	identityPrefixAPI  = "api:"
)

// apiKeyPrefix is the leading token of issued API keys:
// kt_<key_id>_<secret>.
const apiKeyPrefix = "kt"

// =============================================================================
// Interface Definition
// =============================================================================

// TenantService defines tenant-related operations. It satisfies
// admission.TenantResolver so the admission pipeline can resolve
// identities through it.
type TenantService interface {
	// ResolveTenant maps an external identity to its organization.
	// Returns domain.ENOTFOUND when the identity is not linked to an
	// active organization.
	ResolveTenant(ctx context.Context, externalID string) (domain.TenantRef, error)

	// CreateOrganization creates an organization on the given plan.
	// Returns domain.EINVALID for an unknown plan name.
	CreateOrganization(ctx context.Context, name, plan string) (*domain.TenantRef, error)

	// LinkChatIdentity links a chat identity to an organization,
	// stealing it from a previous organization if already linked.
	LinkChatIdentity(ctx context.Context, externalID string, orgID uuid.UUID) error

	// ChangePlan moves an organization to a new plan and invalidates
	// every cached identity of that organization, so the next request
	// sees the new plan immediately.
	// Returns domain.EINVALID for an unknown plan and domain.ENOTFOUND
	// for an unknown organization.
	ChangePlan(ctx context.Context, orgID uuid.UUID, plan string) error

	// IssueAPIKey creates an API key for an organization and returns
	// the full key. The secret is stored only as a bcrypt hash; this is
	// the one chance to read it.
	IssueAPIKey(ctx context.Context, orgID uuid.UUID, label string) (string, error)

	// VerifyAPIKey checks a presented key and returns the external
	// identity ("api:<key_id>") it authenticates as.
	// Returns domain.EUNAUTHORIZED for malformed, unknown, or revoked keys.
	VerifyAPIKey(ctx context.Context, key string) (string, error)

	// RevokeAPIKey revokes a key and drops its cached identity, so the
	// next request with it is refused immediately.
	RevokeAPIKey(ctx context.Context, keyID string) error
}

// =============================================================================
// Implementation
// =============================================================================

type tenantService struct {
	queries *repository.Queries
	cache   *admission.TenantCache
	logger  *slog.Logger
}

// NewTenantService creates a new TenantService.
func NewTenantService(
	queries *repository.Queries,
	cache *admission.TenantCache,
	logger *slog.Logger,
) TenantService {
	return &tenantService{
		queries: queries,
		cache:   cache,
		logger:  logger,
	}
}

// =============================================================================
// ResolveTenant
// =============================================================================

// ResolveTenant maps an external identity to its organization.
func (s *tenantService) ResolveTenant(ctx context.Context, externalID string) (domain.TenantRef, error) {
	const op = "tenant.resolve"

	var (
		org repository.Organization
		err error
	)
	switch {
	case strings.HasPrefix(externalID, identityPrefixChat):
		org, err = s.queries.GetOrganizationByChatIdentity(ctx, externalID)
	case strings.HasPrefix(externalID, identityPrefixAPI):
		keyID := strings.TrimPrefix(externalID, identityPrefixAPI)
		org, err = s.queries.GetOrganizationByAPIKeyID(ctx, keyID)
	default:
		return domain.TenantRef{}, domain.NotFound(op, "organization", externalID)
	}

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			metrics.TenantResolutions.WithLabelValues("not_found").Inc()
			return domain.TenantRef{}, domain.NotFound(op, "organization", externalID)
		}
		metrics.TenantResolutions.WithLabelValues("error").Inc()
		return domain.TenantRef{}, domain.Internal(err, op, "failed to resolve tenant")
	}

	metrics.TenantResolutions.WithLabelValues("ok").Inc()

	return domain.TenantRef{
		TenantID: org.ID.String(),
		PlanName: org.Plan,
	}, nil
}

// =============================================================================
// CreateOrganization
// =============================================================================

func (s *tenantService) CreateOrganization(ctx context.Context, name, plan string) (*domain.TenantRef, error) {
	const op = "tenant.create_organization"

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.Invalid(op, "name is required")
	}

	tier, ok := domain.ParsePlanTier(plan)
	if !ok {
		return nil, domain.Invalid(op, fmt.Sprintf("unknown plan %q", plan))
	}

	org, err := s.queries.CreateOrganization(ctx, uuid.New(), name, string(tier))
	if err != nil {
		return nil, domain.Internal(err, op, "failed to create organization")
	}

	s.logger.Info("organization created",
		"org_id", org.ID,
		"name", org.Name,
		"plan", org.Plan,
	)

	return &domain.TenantRef{TenantID: org.ID.String(), PlanName: org.Plan}, nil
}

// =============================================================================
// LinkChatIdentity
// =============================================================================

func (s *tenantService) LinkChatIdentity(ctx context.Context, externalID string, orgID uuid.UUID) error {
	const op = "tenant.link_identity"

	if !strings.HasPrefix(externalID, identityPrefixChat) {
		return domain.Invalid(op, "external id must start with chat:")
	}

	if err := s.queries.LinkChatIdentity(ctx, externalID, orgID); err != nil {
		return domain.Internal(err, op, "failed to link identity")
	}

	// A relinked identity may be cached against its old organization.
	s.cache.Invalidate(externalID)

	s.logger.Info("chat identity linked", "external_id", externalID, "org_id", orgID)

	return nil
}

// =============================================================================
// ChangePlan
// =============================================================================

func (s *tenantService) ChangePlan(ctx context.Context, orgID uuid.UUID, plan string) error {
	const op = "tenant.change_plan"

	tier, ok := domain.ParsePlanTier(plan)
	if !ok {
		return domain.Invalid(op, fmt.Sprintf("unknown plan %q", plan))
	}

	if err := s.queries.UpdateOrganizationPlan(ctx, orgID, string(tier)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NotFound(op, "organization", orgID.String())
		}
		return domain.Internal(err, op, "failed to update plan")
	}

	// Drop every cached identity of this organization so no request is
	// admitted under the stale plan.
	chatIDs, err := s.queries.ListChatIdentitiesByOrg(ctx, orgID)
	if err != nil {
		return domain.Internal(err, op, "failed to list chat identities")
	}
	for _, id := range chatIDs {
		s.cache.Invalidate(id)
	}

	keyIDs, err := s.queries.ListAPIKeyIDsByOrg(ctx, orgID)
	if err != nil {
		return domain.Internal(err, op, "failed to list api keys")
	}
	for _, keyID := range keyIDs {
		s.cache.Invalidate(identityPrefixAPI + keyID)
	}

	s.logger.Info("organization plan changed",
		"org_id", orgID,
		"plan", tier,
		"invalidated_identities", len(chatIDs)+len(keyIDs),
	)

	return nil
}

// =============================================================================
// API Keys
// =============================================================================

func (s *tenantService) IssueAPIKey(ctx context.Context, orgID uuid.UUID, label string) (string, error) {
	const op = "tenant.issue_api_key"

	org, err := s.queries.GetOrganizationByID(ctx, orgID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.NotFound(op, "organization", orgID.String())
		}
		return "", domain.Internal(err, op, "failed to look up organization")
	}
	if !org.Active {
		return "", domain.Invalid(op, "organization is deactivated")
	}

	keyID, err := randomToken(8)
	if err != nil {
		return "", domain.Internal(err, op, "failed to generate key id")
	}
	secret, err := randomToken(24)
	if err != nil {
		return "", domain.Internal(err, op, "failed to generate secret")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", domain.Internal(err, op, "failed to hash secret")
	}

	if err := s.queries.CreateAPIKey(ctx, keyID, orgID, string(hash), label); err != nil {
		return "", domain.Internal(err, op, "failed to store api key")
	}

	s.logger.Info("api key issued", "org_id", orgID, "key_id", keyID, "label", label)

	return fmt.Sprintf("%s_%s_%s", apiKeyPrefix, keyID, secret), nil
}

func (s *tenantService) VerifyAPIKey(ctx context.Context, key string) (string, error) {
	const op = "tenant.verify_api_key"

	parts := strings.SplitN(key, "_", 3)
	if len(parts) != 3 || parts[0] != apiKeyPrefix || parts[1] == "" || parts[2] == "" {
		return "", domain.Unauthorized(op, "invalid API key")
	}
	keyID, secret := parts[1], parts[2]

	stored, err := s.queries.GetAPIKey(ctx, keyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.Unauthorized(op, "invalid API key")
		}
		return "", domain.Internal(err, op, "failed to look up api key")
	}
	if stored.Revoked {
		return "", domain.Unauthorized(op, "invalid API key")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(stored.SecretHash), []byte(secret)); err != nil {
		return "", domain.Unauthorized(op, "invalid API key")
	}

	return identityPrefixAPI + keyID, nil
}

func (s *tenantService) RevokeAPIKey(ctx context.Context, keyID string) error {
	const op = "tenant.revoke_api_key"

	if err := s.queries.RevokeAPIKey(ctx, keyID); err != nil {
		return domain.Internal(err, op, "failed to revoke api key")
	}

	s.cache.Invalidate(identityPrefixAPI + keyID)

	s.logger.Info("api key revoked", "key_id", keyID)

	return nil
}

// randomToken returns n random bytes hex-encoded.
func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
