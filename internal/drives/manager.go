// Package drives owns drive accounts and their OAuth credentials: the
// sign-in flow, on-demand token refresh behind a per-drive lock, and the
// periodic refresh safety net.
package drives

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/gene9831/one-app-api/internal/database/models"
	"github.com/gene9831/one-app-api/pkg/graph"
	"github.com/gene9831/one-app-api/pkg/logger"
)

// tokenExpirySkew treats tokens this close to expiry as already expired,
// so a token handed out is valid for at least the skew.
const tokenExpirySkew = 5 * time.Minute

// signInStateTTL bounds how long a generated sign-in URL stays valid.
const signInStateTTL = 10 * time.Minute

// Store is the persistence surface the manager needs.
type Store interface {
	GetDrive(ctx context.Context, id string) (*models.Drive, error)
	ListDrives(ctx context.Context) ([]models.Drive, error)
	SaveDrive(ctx context.Context, drive *models.Drive) error
	UpdateDriveFields(ctx context.Context, id string, fields map[string]interface{}) error
	DeleteDrive(ctx context.Context, id string) error
}

// Authenticator is the OAuth surface the manager needs.
type Authenticator interface {
	GenerateAuthURL() (string, string, error)
	Exchange(ctx context.Context, code string) (*graph.Token, error)
	Refresh(ctx context.Context, refreshToken string) (*graph.Token, error)
}

// ProviderClient fetches drive account metadata.
type ProviderClient interface {
	Drive(ctx context.Context, token string) (*graph.DriveInfo, error)
}

// Manager hands out valid access tokens and runs the sign-in flow. A
// per-drive mutex serializes read-maybe-refresh-write, so concurrent
// callers of Token never double-refresh.
type Manager struct {
	store  Store
	auth   Authenticator
	client ProviderClient
	log    *logger.Logger
	tracer trace.Tracer

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	pending map[string]time.Time
}

// NewManager creates a drive manager.
func NewManager(store Store, auth Authenticator, client ProviderClient, log *logger.Logger) *Manager {
	return &Manager{
		store:   store,
		auth:    auth,
		client:  client,
		log:     log,
		tracer:  otel.Tracer("drive-manager"),
		locks:   make(map[string]*sync.Mutex),
		pending: make(map[string]time.Time),
	}
}

// Token returns an access token valid for at least the expiry skew,
// refreshing first when needed.
func (m *Manager) Token(ctx context.Context, driveID string) (string, error) {
	lock := m.driveLock(driveID)
	lock.Lock()
	defer lock.Unlock()

	drive, err := m.store.GetDrive(ctx, driveID)
	if err != nil {
		return "", err
	}
	if drive.NeedsReauth {
		return "", fmt.Errorf("drive %s requires a fresh sign-in", driveID)
	}
	if !drive.TokenExpired(tokenExpirySkew) {
		return drive.AccessToken, nil
	}

	token, err := m.refreshLocked(ctx, drive)
	if err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

// ForceRefresh refreshes a drive's token regardless of its expiry. Used by
// the periodic refresher.
func (m *Manager) ForceRefresh(ctx context.Context, driveID string) error {
	lock := m.driveLock(driveID)
	lock.Lock()
	defer lock.Unlock()

	drive, err := m.store.GetDrive(ctx, driveID)
	if err != nil {
		return err
	}
	if drive.NeedsReauth {
		return fmt.Errorf("drive %s requires a fresh sign-in", driveID)
	}
	_, err = m.refreshLocked(ctx, drive)
	return err
}

// refreshLocked trades the refresh token for a fresh pair and persists it.
// A failure flags the drive for re-authentication. Caller holds the drive
// lock.
func (m *Manager) refreshLocked(ctx context.Context, drive *models.Drive) (*graph.Token, error) {
	ctx, span := m.tracer.Start(ctx, "drives.refresh_token",
		trace.WithAttributes(attribute.String("drive.id", drive.ID)))
	defer span.End()

	token, err := m.auth.Refresh(ctx, drive.RefreshToken)
	if err != nil {
		span.RecordError(err)
		if updateErr := m.store.UpdateDriveFields(ctx, drive.ID, map[string]interface{}{
			"needs_reauth": true,
		}); updateErr != nil {
			m.log.WithError(updateErr).Error("failed to flag drive %s for reauth", drive.ID)
		}
		return nil, fmt.Errorf("token refresh failed for drive %s: %w", drive.ID, err)
	}

	err = m.store.UpdateDriveFields(ctx, drive.ID, map[string]interface{}{
		"access_token":     token.AccessToken,
		"refresh_token":    token.RefreshToken,
		"token_expires_at": token.ExpiresAt,
		"needs_reauth":     false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist refreshed token: %w", err)
	}
	return token, nil
}

// BeginSignIn returns the provider sign-in URL. The embedded state must
// come back on the callback.
func (m *Manager) BeginSignIn() (string, error) {
	url, state, err := m.auth.GenerateAuthURL()
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	now := time.Now()
	for s, created := range m.pending {
		if now.Sub(created) > signInStateTTL {
			delete(m.pending, s)
		}
	}
	m.pending[state] = now
	m.mu.Unlock()

	return url, nil
}

// CompleteSignIn validates the callback state, exchanges the code, and
// upserts the drive row. Signing in an already-known account replaces its
// tokens and keeps its catalog.
func (m *Manager) CompleteSignIn(ctx context.Context, code, state string) (*models.Drive, error) {
	ctx, span := m.tracer.Start(ctx, "drives.complete_sign_in")
	defer span.End()

	m.mu.Lock()
	created, known := m.pending[state]
	delete(m.pending, state)
	m.mu.Unlock()
	if !known || time.Since(created) > signInStateTTL {
		return nil, fmt.Errorf("unknown or expired sign-in state")
	}

	token, err := m.auth.Exchange(ctx, code)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	info, err := m.client.Drive(ctx, token.AccessToken)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to fetch drive account: %w", err)
	}

	drive, err := m.store.GetDrive(ctx, info.ID)
	if err != nil {
		drive = &models.Drive{ID: info.ID}
	}

	drive.DriveType = info.DriveType
	drive.OwnerName = info.Owner.User.DisplayName
	drive.OwnerEmail = info.Owner.User.Email
	drive.QuotaTotal = info.Quota.Total
	drive.QuotaUsed = info.Quota.Used
	drive.QuotaRemaining = info.Quota.Remaining
	drive.AccessToken = token.AccessToken
	drive.RefreshToken = token.RefreshToken
	drive.TokenExpiresAt = token.ExpiresAt
	drive.NeedsReauth = false

	if err := m.store.SaveDrive(ctx, drive); err != nil {
		span.RecordError(err)
		return nil, err
	}

	m.log.Info("drive %s signed in (%s)", drive.ID, drive.OwnerName)
	return drive, nil
}

// SignOut removes a drive, its catalog, and its upload jobs.
func (m *Manager) SignOut(ctx context.Context, driveID string) error {
	lock := m.driveLock(driveID)
	lock.Lock()
	defer lock.Unlock()

	if err := m.store.DeleteDrive(ctx, driveID); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.locks, driveID)
	m.mu.Unlock()

	m.log.Info("drive %s signed out", driveID)
	return nil
}

// SetMediaPaths updates the movies and TV series roots of a drive.
func (m *Manager) SetMediaPaths(ctx context.Context, driveID, moviesPath, tvSeriesPath string) error {
	return m.store.UpdateDriveFields(ctx, driveID, map[string]interface{}{
		"movies_path":    moviesPath,
		"tv_series_path": tvSeriesPath,
	})
}

func (m *Manager) driveLock(driveID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[driveID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[driveID] = lock
	}
	return lock
}
