package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultCurrency             = "INR"
	defaultTokenTTL             = 72 * time.Hour
	defaultResetTokenTTL        = 20 * time.Minute
	defaultBcryptCost           = 10
	defaultMailPort             = 587
	defaultReconcileAfter       = 30 * time.Minute
	defaultReconcileInterval    = 10 * time.Minute
	defaultReconcileBatchSize   = 100
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firestore   FirestoreConfig
	Storage     StorageConfig
	Auth        AuthConfig
	Payments    PaymentsConfig
	Mail        MailConfig
	Events      EventsConfig
	Pricing     PricingConfig
	Orders      OrdersConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StorageConfig lists bucket names used for product photos.
type StorageConfig struct {
	PhotosBucket      string
	SignerEmail       string
	SignerKeyFile     string
	UploadURLExpiry   time.Duration
	AllowedPhotoTypes []string
}

// AuthConfig groups token issuance and password settings.
type AuthConfig struct {
	JWTSigningKey string
	TokenTTL      time.Duration
	ResetTokenTTL time.Duration
	BcryptCost    int
}

// PaymentsConfig collects credentials for the payment gateway.
type PaymentsConfig struct {
	RazorpayKeyID     string
	RazorpayKeySecret string
	WebhookSecret     string
}

// MailConfig configures the outbound SMTP transport.
type MailConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromAddress string
	ResetURL    string
}

// EventsConfig names the Pub/Sub topic carrying order lifecycle events.
type EventsConfig struct {
	ProjectID       string
	OrderEventTopic string
}

// PricingConfig controls quote behaviour.
type PricingConfig struct {
	Currency string
	// RequireActiveCoupon makes an unknown or inactive coupon fail the quote
	// instead of silently applying zero discount.
	RequireActiveCoupon bool
}

// OrdersConfig controls order lifecycle policy.
type OrdersConfig struct {
	// RestockOnCancel returns cancelled ordered stock to inventory.
	RestockOnCancel    bool
	ReconcileAfter     time.Duration
	ReconcileInterval  time.Duration
	ReconcileBatchSize int
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts a function to the SecretResolver interface.
type SecretResolverFunc func(context.Context, string) (string, error)

func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError reports configuration fields that failed validation.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: missing or invalid fields: %s", strings.Join(e.fields, ", "))
}

// Fields returns the list of offending configuration fields.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError wraps secret resolution failures with the offending reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("config: resolve secret %s: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises how Load sources configuration values.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the dotenv file consulted during Load.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap supplies an in-memory value map that takes precedence over the environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables process environment lookups (useful for tests).
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver installs the resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		if resolver != nil {
			o.secret = resolver
		}
	}
}

// source layers the explicit value map over the process environment over the
// dotenv file, first hit wins.
type source struct {
	overrides map[string]string
	dotenv    map[string]string
	systemEnv bool
}

func (s source) get(key string) (string, bool) {
	if value, ok := s.overrides[key]; ok {
		return value, true
	}
	if s.systemEnv {
		if value, ok := os.LookupEnv(key); ok {
			return value, true
		}
	}
	value, ok := s.dotenv[key]
	return value, ok
}

func (s source) str(key, fallback string) string {
	if value, ok := s.get(key); ok && value != "" {
		return value
	}
	return fallback
}

func (s source) dur(key string, fallback time.Duration) time.Duration {
	if value, ok := s.get(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func (s source) num(key string, fallback int) int {
	if value, ok := s.get(key); ok && value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func (s source) flag(key string, fallback bool) bool {
	if value, ok := s.get(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func (s source) csv(key string) []string {
	raw, ok := s.get(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Load reads configuration from the environment, optional dotenv file, and
// resolves any secret references before validating the result.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotenv, err := parseDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}
	src := source{
		overrides: options.envMap,
		dotenv:    dotenv,
		systemEnv: options.useSystemEnv,
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         src.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:  src.dur("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: src.dur("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  src.dur("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    src.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: src.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Storage: StorageConfig{
			PhotosBucket:      src.str("API_STORAGE_PHOTOS_BUCKET", ""),
			SignerEmail:       src.str("API_STORAGE_SIGNER_EMAIL", ""),
			SignerKeyFile:     src.str("API_STORAGE_SIGNER_KEY_FILE", ""),
			UploadURLExpiry:   src.dur("API_STORAGE_UPLOAD_URL_EXPIRY", 15*time.Minute),
			AllowedPhotoTypes: src.csv("API_STORAGE_ALLOWED_PHOTO_TYPES"),
		},
		Auth: AuthConfig{
			JWTSigningKey: src.str("API_AUTH_JWT_SIGNING_KEY", ""),
			TokenTTL:      src.dur("API_AUTH_TOKEN_TTL", defaultTokenTTL),
			ResetTokenTTL: src.dur("API_AUTH_RESET_TOKEN_TTL", defaultResetTokenTTL),
			BcryptCost:    src.num("API_AUTH_BCRYPT_COST", defaultBcryptCost),
		},
		Payments: PaymentsConfig{
			RazorpayKeyID:     src.str("API_PAYMENTS_RAZORPAY_KEY_ID", ""),
			RazorpayKeySecret: src.str("API_PAYMENTS_RAZORPAY_KEY_SECRET", ""),
			WebhookSecret:     src.str("API_PAYMENTS_WEBHOOK_SECRET", ""),
		},
		Mail: MailConfig{
			Host:        src.str("API_MAIL_HOST", ""),
			Port:        src.num("API_MAIL_PORT", defaultMailPort),
			Username:    src.str("API_MAIL_USERNAME", ""),
			Password:    src.str("API_MAIL_PASSWORD", ""),
			FromAddress: src.str("API_MAIL_FROM", ""),
			ResetURL:    src.str("API_MAIL_RESET_URL", ""),
		},
		Events: EventsConfig{
			ProjectID:       src.str("API_EVENTS_PROJECT_ID", ""),
			OrderEventTopic: src.str("API_EVENTS_ORDER_TOPIC", ""),
		},
		Pricing: PricingConfig{
			Currency:            strings.ToUpper(src.str("API_PRICING_CURRENCY", defaultCurrency)),
			RequireActiveCoupon: src.flag("API_PRICING_REQUIRE_ACTIVE_COUPON", false),
		},
		Orders: OrdersConfig{
			RestockOnCancel:    src.flag("API_ORDERS_RESTOCK_ON_CANCEL", false),
			ReconcileAfter:     src.dur("API_ORDERS_RECONCILE_AFTER", defaultReconcileAfter),
			ReconcileInterval:  src.dur("API_ORDERS_RECONCILE_INTERVAL", defaultReconcileInterval),
			ReconcileBatchSize: src.num("API_ORDERS_RECONCILE_BATCH", defaultReconcileBatchSize),
		},
		Idempotency: IdempotencyConfig{
			Header:           src.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              src.dur("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  src.dur("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: src.num("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}

	if cfg.Events.ProjectID == "" {
		cfg.Events.ProjectID = cfg.Firestore.ProjectID
	}
	if len(cfg.Storage.AllowedPhotoTypes) == 0 {
		cfg.Storage.AllowedPhotoTypes = []string{"image/jpeg", "image/png", "image/webp"}
	}

	// Credentials may arrive as secret:// references instead of literals.
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Auth.JWTSigningKey", &cfg.Auth.JWTSigningKey},
		{"Payments.RazorpayKeySecret", &cfg.Payments.RazorpayKeySecret},
		{"Payments.WebhookSecret", &cfg.Payments.WebhookSecret},
		{"Mail.Password", &cfg.Mail.Password},
	}
	for _, target := range secretFields {
		resolved, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	ref, isRef := secretReference(value)
	if !isRef {
		return value, nil
	}
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

// secretReference reports whether value names a secret rather than a literal,
// normalising the legacy sm:// scheme to secret://.
func secretReference(value string) (string, bool) {
	trimmed := strings.TrimSpace(value)
	switch {
	case strings.HasPrefix(trimmed, "secret://"):
		return trimmed, true
	case strings.HasPrefix(trimmed, "sm://"):
		return "secret://" + strings.TrimPrefix(trimmed, "sm://"), true
	default:
		return "", false
	}
}

func validateConfig(cfg Config) error {
	var missing []string

	require := func(ok bool, field string) {
		if !ok {
			missing = append(missing, field)
		}
	}
	require(cfg.Server.Port != "", "Server.Port")
	require(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	require(cfg.Auth.JWTSigningKey != "", "Auth.JWTSigningKey")
	require(cfg.Auth.TokenTTL > 0, "Auth.TokenTTL")
	require(cfg.Auth.BcryptCost > 0, "Auth.BcryptCost")
	require(cfg.Pricing.Currency != "", "Pricing.Currency")
	require(strings.TrimSpace(cfg.Idempotency.Header) != "", "Idempotency.Header")
	require(cfg.Idempotency.TTL > 0, "Idempotency.TTL")
	require(cfg.Orders.ReconcileAfter > 0, "Orders.ReconcileAfter")

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func parseDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))

		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		if key = strings.TrimSpace(key); key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", path, err)
	}
	return values, nil
}
