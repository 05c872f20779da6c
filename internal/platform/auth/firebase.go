package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
	"github.com/YunomiXavia/beQuanTri/internal/platform/config"
)

const defaultVerifyTimeout = 5 * time.Second

var errVerifierNotInitialised = errors.New("firebase verifier not initialised")

// FirebaseVerifier wraps the Admin SDK auth client: it verifies ID tokens, loads user records
// and maintains the role custom claim.
type FirebaseVerifier struct {
	client  *firebaseauth.Client
	timeout time.Duration
}

// FirebaseOption customises FirebaseVerifier instances.
type FirebaseOption func(*FirebaseVerifier)

// WithFirebaseTimeout overrides the timeout used for Admin SDK calls.
func WithFirebaseTimeout(d time.Duration) FirebaseOption {
	return func(v *FirebaseVerifier) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// NewFirebaseVerifier initialises the Admin SDK for cfg.ProjectID. The SDK honours
// FIREBASE_AUTH_EMULATOR_HOST on its own, so local runs need no extra wiring.
func NewFirebaseVerifier(ctx context.Context, cfg config.FirebaseConfig, opts ...FirebaseOption) (*FirebaseVerifier, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firebase project id is required")
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase app: %w", err)
	}
	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase auth client: %w", err)
	}

	verifier := &FirebaseVerifier{client: authClient, timeout: defaultVerifyTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(verifier)
		}
	}
	return verifier, nil
}

// VerifyIDToken verifies idToken, including revocation, within the configured timeout.
func (v *FirebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	if v == nil || v.client == nil {
		return nil, errVerifierNotInitialised
	}
	ctx, cancel := v.bounded(ctx)
	defer cancel()
	return v.client.VerifyIDTokenAndCheckRevoked(ctx, idToken)
}

// GetUser loads the Firebase user record for uid.
func (v *FirebaseVerifier) GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error) {
	if v == nil || v.client == nil {
		return nil, errVerifierNotInitialised
	}
	ctx, cancel := v.bounded(ctx)
	defer cancel()
	return v.client.GetUser(ctx, uid)
}

// GrantRole adds role to the account's role claim, keeping any other custom claims. Tokens
// issued before the call keep their old claims until refreshed.
func (v *FirebaseVerifier) GrantRole(ctx context.Context, uid, role string) error {
	if v == nil || v.client == nil {
		return errVerifierNotInitialised
	}
	parsed, ok := ParseRole(role)
	if uid == "" || !ok {
		return fmt.Errorf("auth: cannot grant role %q to %q", role, uid)
	}
	ctx, cancel := v.bounded(ctx)
	defer cancel()

	record, err := v.client.GetUser(ctx, uid)
	if err != nil {
		return fmt.Errorf("auth: load user %s: %w", uid, err)
	}
	claims, changed := withRole(record.CustomClaims, defaultRoleClaim, parsed)
	if !changed {
		return nil
	}
	if err := v.client.SetCustomUserClaims(ctx, uid, claims); err != nil {
		return fmt.Errorf("auth: set claims for %s: %w", uid, err)
	}
	return nil
}

// withRole returns a copy of claims whose key lists role, and whether anything changed.
func withRole(claims map[string]interface{}, key string, role domain.Role) (map[string]interface{}, bool) {
	out := make(map[string]interface{}, len(claims)+1)
	for k, v := range claims {
		out[k] = v
	}
	roles := rolesFromClaims(out, key)
	if containsRole(roles, role) {
		return out, false
	}
	roles = append(roles, role)
	list := make([]interface{}, 0, len(roles))
	for _, r := range roles {
		list = append(list, string(r))
	}
	out[key] = list
	return out, true
}

func (v *FirebaseVerifier) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if v.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, v.timeout)
}
