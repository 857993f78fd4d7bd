package service

import (
	"context"
	"errors"
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// storeError maps repository failures onto domain errors. Domain errors pass through.
func storeError(err error, resource, id string) error {
	if err == nil {
		return nil
	}
	var domainErr *apperrors.DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewNotFound(resource, map[string]any{"id": id})
	}
	return apperrors.NewStoreUnavailable(err)
}

// requireActor rejects missing or deactivated profiles.
func requireActor(actor *domain.User) error {
	if actor == nil {
		return apperrors.NewUnauthorized("authentication required")
	}
	if !actor.Active {
		return apperrors.NewForbidden("account is deactivated")
	}
	return nil
}

// withTimeout bounds a single operation's store calls.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func strPtr(v string) *string {
	return &v
}

func stringPreview(body string, max int) string {
	runes := []rune(body)
	if len(runes) <= max {
		return body
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
