package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

const (
	// CredentialPrefix marks the record kind in the opaque client secret.
	CredentialPrefix = "cr_"

	// credentialEntropyBytes is the random suffix length in bytes; the
	// hex-encoded suffix is twice this long.
	credentialEntropyBytes = 24

	// minSuffixLength is the shortest suffix accepted as well-formed.
	minSuffixLength = 16
)

// Permission scopes for a key.
const (
	PermissionAll    = "all"
	PermissionClaude = "claude"
)

// WindowMode selects how the request-rate window counts requests.
type WindowMode string

const (
	// WindowFixed resets the count at each window boundary.
	WindowFixed WindowMode = "fixed"

	// WindowSliding weighs the previous window by its remaining overlap
	// for a rolling count without reset spikes.
	WindowSliding WindowMode = "sliding"
)

// Record is a stored API key. The secret itself is never stored; only
// SecretHash, a one-way hash of the full credential.
//
// A zero value for any limit means unlimited.
type Record struct {
	// ID is the opaque key identifier.
	ID string

	// Name is the display name.
	Name string

	// SecretHash is the hex SHA-256 of the full credential string.
	SecretHash string

	// Active is cleared to disable the key without deleting it.
	Active bool

	// Deleted marks the key soft-deleted. Deleted keys fail validation
	// with ErrNotFound and are excluded from enumeration by default.
	Deleted bool

	// CreatedAt is when the key was generated.
	CreatedAt time.Time

	// ExpiresAt is the absolute expiry (fixed mode). Zero means no fixed
	// expiry.
	ExpiresAt time.Time

	// ActivationWindow, when positive, switches the key to rolling
	// expiration: the key expires ActivationWindow after its first use.
	ActivationWindow time.Duration

	// ActivatedAt is the first-use timestamp under rolling expiration.
	// Zero until the key is first validated.
	ActivatedAt time.Time

	// DailyCostLimit caps USD spend per calendar day.
	DailyCostLimit float64

	// TotalCostLimit caps all-time USD spend.
	TotalCostLimit float64

	// WeeklyOpusCostLimit caps USD spend on Opus-class models per ISO week.
	WeeklyOpusCostLimit float64

	// RateLimitWindow is the request-rate window length.
	RateLimitWindow time.Duration

	// RateLimitRequests caps requests per window.
	RateLimitRequests int64

	// RateLimitCost caps USD spend per window.
	RateLimitCost float64

	// ConcurrencyLimit caps simultaneous in-flight requests.
	ConcurrencyLimit int64

	// Permissions is the provider scope ("all" or a provider name).
	Permissions string

	// ModelRestrictionsEnabled turns the model allow-list on.
	ModelRestrictionsEnabled bool

	// AllowedModels is the model allow-list.
	AllowedModels []string

	// ClientRestrictionsEnabled turns the client allow-list on.
	ClientRestrictionsEnabled bool

	// AllowedClients is the client-identifier allow-list.
	AllowedClients []string

	// Tags are free-form labels.
	Tags []string
}

// Usage is one request's observed token consumption, as reported by the
// relay. Additive: commits may arrive in any order.
type Usage struct {
	InputTokens         int64
	OutputTokens        int64
	CacheCreationTokens int64
	CacheReadTokens     int64
	Model               string
}

// Snapshot is a key's live usage state merged in from the store. A store
// miss for any counter reads as zero; a snapshot never fails validation.
type Snapshot struct {
	// DailyCost is today's USD spend.
	DailyCost float64

	// TotalCost is all-time USD spend.
	TotalCost float64

	// WeeklyOpusCost is this ISO week's Opus-class USD spend.
	WeeklyOpusCost float64

	// DailyRequests is today's admitted request count.
	DailyRequests int64

	// DailyInputTokens and DailyOutputTokens are today's token counts.
	DailyInputTokens  int64
	DailyOutputTokens int64

	// TotalInputTokens and TotalOutputTokens are all-time token counts.
	TotalInputTokens  int64
	TotalOutputTokens int64

	// WindowRequests is the request count in the current rate window.
	WindowRequests int64

	// WindowCost is the USD spend in the current rate window.
	WindowCost float64

	// Concurrency is the number of in-flight requests holding slots.
	Concurrency int64
}

// Summary pairs a record with its live usage for enumeration.
type Summary struct {
	Record Record
	Usage  Snapshot
}

// RequestContext carries the request attributes Authorize checks policy
// against.
type RequestContext struct {
	// Model is the requested upstream model.
	Model string

	// ClientID identifies the requesting client application.
	ClientID string

	// EstimatedCost is the projected USD cost of the request, used to
	// reject requests that would cross a ceiling. May be zero.
	EstimatedCost float64
}

// GenerateCredential returns a fresh plaintext credential. The plaintext
// is shown to the caller exactly once; only its hash is stored.
func GenerateCredential() (string, error) {
	buf := make([]byte, credentialEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return CredentialPrefix + hex.EncodeToString(buf), nil
}

// HashCredential returns the hex SHA-256 of the full credential string.
// Records are indexed by this hash, never by the plaintext.
func HashCredential(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}

// WellFormed reports whether a credential has the expected shape. This is
// the fast-path check performed before any store lookup.
func WellFormed(credential string) bool {
	if !strings.HasPrefix(credential, CredentialPrefix) {
		return false
	}
	return len(credential)-len(CredentialPrefix) >= minSuffixLength
}

// Store field names for a serialized record. Everything is string-typed in
// the store; parse and serialize go through the typed accessors below.
const (
	fieldID                  = "id"
	fieldName                = "name"
	fieldSecretHash          = "secret_hash"
	fieldActive              = "active"
	fieldDeleted             = "deleted"
	fieldCreatedAt           = "created_at"
	fieldExpiresAt           = "expires_at"
	fieldActivationWindow    = "activation_window_seconds"
	fieldActivatedAt         = "activated_at"
	fieldDailyCostLimit      = "daily_cost_limit"
	fieldTotalCostLimit      = "total_cost_limit"
	fieldWeeklyOpusCostLimit = "weekly_opus_cost_limit"
	fieldRateLimitWindow     = "rate_limit_window_seconds"
	fieldRateLimitRequests   = "rate_limit_requests"
	fieldRateLimitCost       = "rate_limit_cost"
	fieldConcurrencyLimit    = "concurrency_limit"
	fieldPermissions         = "permissions"
	fieldModelRestrictions   = "model_restrictions_enabled"
	fieldAllowedModels       = "allowed_models"
	fieldClientRestrictions  = "client_restrictions_enabled"
	fieldAllowedClients      = "allowed_clients"
	fieldTags                = "tags"
)

// serialize renders a record into canonical store fields.
func (r *Record) serialize() map[string]string {
	return map[string]string{
		fieldID:                  r.ID,
		fieldName:                r.Name,
		fieldSecretHash:          r.SecretHash,
		fieldActive:              strconv.FormatBool(r.Active),
		fieldDeleted:             strconv.FormatBool(r.Deleted),
		fieldCreatedAt:           formatTime(r.CreatedAt),
		fieldExpiresAt:           formatTime(r.ExpiresAt),
		fieldActivationWindow:    strconv.FormatInt(int64(r.ActivationWindow/time.Second), 10),
		fieldActivatedAt:         formatTime(r.ActivatedAt),
		fieldDailyCostLimit:      formatFloat(r.DailyCostLimit),
		fieldTotalCostLimit:      formatFloat(r.TotalCostLimit),
		fieldWeeklyOpusCostLimit: formatFloat(r.WeeklyOpusCostLimit),
		fieldRateLimitWindow:     strconv.FormatInt(int64(r.RateLimitWindow/time.Second), 10),
		fieldRateLimitRequests:   strconv.FormatInt(r.RateLimitRequests, 10),
		fieldRateLimitCost:       formatFloat(r.RateLimitCost),
		fieldConcurrencyLimit:    strconv.FormatInt(r.ConcurrencyLimit, 10),
		fieldPermissions:         r.Permissions,
		fieldModelRestrictions:   strconv.FormatBool(r.ModelRestrictionsEnabled),
		fieldAllowedModels:       formatList(r.AllowedModels),
		fieldClientRestrictions:  strconv.FormatBool(r.ClientRestrictionsEnabled),
		fieldAllowedClients:      formatList(r.AllowedClients),
		fieldTags:                formatList(r.Tags),
	}
}

// parseRecord rebuilds a record from store fields, validating each one.
func parseRecord(id string, fields map[string]string) (*Record, error) {
	p := &recordParser{id: id, fields: fields}

	rec := &Record{
		ID:         fields[fieldID],
		Name:       fields[fieldName],
		SecretHash: fields[fieldSecretHash],

		Active:    p.parseBool(fieldActive),
		Deleted:   p.parseBool(fieldDeleted),
		CreatedAt: p.parseTime(fieldCreatedAt),
		ExpiresAt: p.parseTime(fieldExpiresAt),

		ActivationWindow: time.Duration(p.parseInt(fieldActivationWindow)) * time.Second,
		ActivatedAt:      p.parseTime(fieldActivatedAt),

		DailyCostLimit:      p.parseFloat(fieldDailyCostLimit),
		TotalCostLimit:      p.parseFloat(fieldTotalCostLimit),
		WeeklyOpusCostLimit: p.parseFloat(fieldWeeklyOpusCostLimit),

		RateLimitWindow:   time.Duration(p.parseInt(fieldRateLimitWindow)) * time.Second,
		RateLimitRequests: p.parseInt(fieldRateLimitRequests),
		RateLimitCost:     p.parseFloat(fieldRateLimitCost),
		ConcurrencyLimit:  p.parseInt(fieldConcurrencyLimit),

		Permissions:               fields[fieldPermissions],
		ModelRestrictionsEnabled:  p.parseBool(fieldModelRestrictions),
		AllowedModels:             p.parseList(fieldAllowedModels),
		ClientRestrictionsEnabled: p.parseBool(fieldClientRestrictions),
		AllowedClients:            p.parseList(fieldAllowedClients),
		Tags:                      p.parseList(fieldTags),
	}
	if rec.ID == "" {
		rec.ID = id
	}
	if p.err != nil {
		return nil, p.err
	}
	return rec, nil
}

// recordParser accumulates the first parse failure while reading fields.
type recordParser struct {
	id     string
	fields map[string]string
	err    error
}

func (p *recordParser) fail(field string, cause error) {
	if p.err == nil {
		p.err = &CorruptRecordError{ID: p.id, Field: field, Cause: cause}
	}
}

func (p *recordParser) parseBool(field string) bool {
	raw := p.fields[field]
	if raw == "" {
		return false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(field, err)
	}
	return v
}

func (p *recordParser) parseInt(field string) int64 {
	raw := p.fields[field]
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		p.fail(field, err)
	}
	return v
}

func (p *recordParser) parseFloat(field string) float64 {
	raw := p.fields[field]
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.fail(field, err)
	}
	return v
}

func (p *recordParser) parseTime(field string) time.Time {
	raw := p.fields[field]
	if raw == "" {
		return time.Time{}
	}
	v, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		p.fail(field, err)
	}
	return v
}

func (p *recordParser) parseList(field string) []string {
	raw := p.fields[field]
	if raw == "" {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		p.fail(field, err)
	}
	return list
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatList(list []string) string {
	if len(list) == 0 {
		return ""
	}
	raw, _ := json.Marshal(list)
	return string(raw)
}

// containsFold reports whether list contains value, case-insensitively.
func containsFold(list []string, value string) bool {
	for _, item := range list {
		if strings.EqualFold(item, value) {
			return true
		}
	}
	return false
}
