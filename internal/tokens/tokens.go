// ABOUTME: Registry of named API tokens plus the admin UI settings, persisted as one document
// ABOUTME: Bootstraps the protected Default token and validates candidate secrets in constant time

package tokens

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/2389/valueapi/internal/store"
)

// DocumentName is the backend name of the settings document
const DocumentName = "settings"

// DefaultTokenName names the token that always exists and cannot be removed
const DefaultTokenName = "Default"

// secretBytes is the entropy of generated secrets (hex encoded to 64 chars)
const secretBytes = 32

// ErrDisabled is returned by Add when settings forbid new tokens
var ErrDisabled = errors.New("creating new tokens is disabled")

// Token is a named bearer secret
type Token struct {
	Name      string `json:"name"`
	Secret    string `json:"token"`
	Remark    string `json:"remark"`
	CreatedAt int64  `json:"createdAt"` // epoch milliseconds
	IsDefault bool   `json:"isDefault,omitempty"`
}

// Settings are the operator-tunable values shown on the admin settings page
type Settings struct {
	HistoryLimit  int  `json:"historyLimit"`
	PageSize      int  `json:"pageSize"`
	AllowNewToken bool `json:"allowNewToken"`
}

// DefaultSettings returns the settings used when none are stored
func DefaultSettings() Settings {
	return Settings{
		HistoryLimit:  1000,
		PageSize:      20,
		AllowNewToken: true,
	}
}

// Validate checks that the numeric settings are usable
func (s Settings) Validate() error {
	if s.HistoryLimit < 1 {
		return fmt.Errorf("%w: historyLimit must be at least 1", store.ErrInvalidArgument)
	}
	if s.PageSize < 1 {
		return fmt.Errorf("%w: pageSize must be at least 1", store.ErrInvalidArgument)
	}
	return nil
}

// UnmarshalJSON defaults a missing allowNewToken to true. Missing numeric
// fields stay zero and are filled from the registry defaults on load.
func (s *Settings) UnmarshalJSON(data []byte) error {
	type plain Settings
	p := plain{AllowNewToken: true}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = Settings(p)
	return nil
}

// Document is the persisted settings document
type Document struct {
	Tokens   []Token  `json:"tokens"`
	Settings Settings `json:"settings"`
}

// UnmarshalJSON keeps allowNewToken on when the settings block is absent;
// the numeric settings are filled from the registry defaults on load.
func (d *Document) UnmarshalJSON(data []byte) error {
	type plain Document
	p := plain{Settings: Settings{AllowNewToken: true}}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*d = Document(p)
	return nil
}

func (d Document) clone() Document {
	out := Document{Tokens: make([]Token, len(d.Tokens)), Settings: d.Settings}
	copy(out.Tokens, d.Tokens)
	return out
}

func (d *Document) index(name string) int {
	for i := range d.Tokens {
		if d.Tokens[i].Name == name {
			return i
		}
	}
	return -1
}

// Options configures a Registry
type Options struct {
	// BootstrapSecret seeds the Default token when it does not exist yet.
	// Empty means generate a random one.
	BootstrapSecret string

	// Defaults are used for a fresh settings document and for unusable values
	// in a stored one. Zero fields fall back to DefaultSettings.
	Defaults Settings
}

// Edit describes changes to an existing token. Nil fields are left alone.
type Edit struct {
	Secret     *string
	Remark     *string
	Regenerate bool
}

// Registry manages API tokens and settings
type Registry struct {
	docs   *store.DocumentStore[Document]
	logger *slog.Logger
	now    func() time.Time

	hookMu sync.Mutex
	hooks  []func(Settings)
}

// New creates a registry on backend and makes sure the Default token exists.
// An existing Default token is never rotated, even if BootstrapSecret differs.
func New(ctx context.Context, backend store.Backend, opts Options) (*Registry, error) {
	defaults := DefaultSettings()
	if opts.Defaults.HistoryLimit > 0 {
		defaults.HistoryLimit = opts.Defaults.HistoryLimit
	}
	if opts.Defaults.PageSize > 0 {
		defaults.PageSize = opts.Defaults.PageSize
	}

	r := &Registry{
		logger: slog.Default().With("component", "tokens"),
		now:    time.Now,
	}
	r.docs = store.NewDocumentStore(backend, store.Options[Document]{
		Name: DocumentName,
		Fresh: func() Document {
			return Document{Tokens: []Token{}, Settings: defaults}
		},
		Normalize: func(d *Document) {
			if d.Tokens == nil {
				d.Tokens = []Token{}
			}
			if d.Settings.HistoryLimit < 1 {
				d.Settings.HistoryLimit = defaults.HistoryLimit
			}
			if d.Settings.PageSize < 1 {
				d.Settings.PageSize = defaults.PageSize
			}
		},
		Clone: Document.clone,
	})

	if err := r.bootstrap(ctx, opts.BootstrapSecret); err != nil {
		return nil, fmt.Errorf("bootstrapping default token: %w", err)
	}
	return r, nil
}

func (r *Registry) bootstrap(ctx context.Context, secret string) error {
	return r.docs.Update(ctx, func(d *Document) error {
		if i := d.index(DefaultTokenName); i >= 0 {
			tok := &d.Tokens[i]
			if secret != "" && subtle.ConstantTimeCompare([]byte(tok.Secret), []byte(secret)) != 1 {
				r.logger.Warn("configured token differs from the stored Default token; keeping the stored one",
					"hint", "edit the Default token in the admin UI to change it")
			}
			if tok.IsDefault {
				return store.ErrUnchanged
			}
			tok.IsDefault = true
			return nil
		}

		generated := secret == ""
		if generated {
			var err error
			if secret, err = generateSecret(); err != nil {
				return err
			}
		}
		d.Tokens = append([]Token{{
			Name:      DefaultTokenName,
			Secret:    secret,
			Remark:    "Default token",
			CreatedAt: r.now().UnixMilli(),
			IsDefault: true,
		}}, d.Tokens...)
		r.logger.Info("created Default token", "generated", generated)
		return nil
	})
}

// Validate reports whether candidate matches any registered token's secret
// and returns that token. Every comparison is constant time.
func (r *Registry) Validate(ctx context.Context, candidate string) (Token, bool) {
	if candidate == "" {
		return Token{}, false
	}
	var match Token
	found := false
	for _, tok := range r.docs.Load(ctx).Tokens {
		if subtle.ConstantTimeCompare([]byte(tok.Secret), []byte(candidate)) == 1 && !found {
			match = tok
			found = true
		}
	}
	return match, found
}

// List returns every token in stored order
func (r *Registry) List(ctx context.Context) []Token {
	return r.docs.Load(ctx).Tokens
}

// Get returns the named token
func (r *Registry) Get(ctx context.Context, name string) (Token, error) {
	d := r.docs.Load(ctx)
	i := d.index(name)
	if i < 0 {
		return Token{}, fmt.Errorf("token %q: %w", name, store.ErrNotFound)
	}
	return d.Tokens[i], nil
}

// Add creates a token with a random secret
func (r *Registry) Add(ctx context.Context, name, remark string) (Token, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Token{}, fmt.Errorf("%w: token name is required", store.ErrInvalidArgument)
	}
	secret, err := generateSecret()
	if err != nil {
		return Token{}, fmt.Errorf("generating secret: %w", err)
	}

	var created Token
	err = r.docs.Update(ctx, func(d *Document) error {
		if !d.Settings.AllowNewToken {
			return ErrDisabled
		}
		if d.index(name) >= 0 {
			return fmt.Errorf("token %q: %w", name, store.ErrAlreadyExists)
		}
		created = Token{
			Name:      name,
			Secret:    secret,
			Remark:    remark,
			CreatedAt: r.now().UnixMilli(),
		}
		d.Tokens = append(d.Tokens, created)
		return nil
	})
	if err != nil {
		return Token{}, err
	}

	r.logger.Info("token created", "name", name)
	return created, nil
}

// Remove deletes the named token. The Default token cannot be removed.
func (r *Registry) Remove(ctx context.Context, name string) error {
	if name == DefaultTokenName {
		return fmt.Errorf("token %q: %w", name, store.ErrProtected)
	}
	err := r.docs.Update(ctx, func(d *Document) error {
		i := d.index(name)
		if i < 0 {
			return fmt.Errorf("token %q: %w", name, store.ErrNotFound)
		}
		d.Tokens = append(d.Tokens[:i], d.Tokens[i+1:]...)
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Info("token removed", "name", name)
	return nil
}

// Edit changes the secret and/or remark of a token. The Default token's
// secret may be changed.
func (r *Registry) Edit(ctx context.Context, name string, e Edit) (Token, error) {
	newSecret := ""
	switch {
	case e.Regenerate:
		s, err := generateSecret()
		if err != nil {
			return Token{}, fmt.Errorf("generating secret: %w", err)
		}
		newSecret = s
	case e.Secret != nil:
		newSecret = strings.TrimSpace(*e.Secret)
		if newSecret == "" {
			return Token{}, fmt.Errorf("%w: token secret cannot be empty", store.ErrInvalidArgument)
		}
	}

	var edited Token
	err := r.docs.Update(ctx, func(d *Document) error {
		i := d.index(name)
		if i < 0 {
			return fmt.Errorf("token %q: %w", name, store.ErrNotFound)
		}
		if newSecret != "" {
			for j := range d.Tokens {
				if j != i && subtle.ConstantTimeCompare([]byte(d.Tokens[j].Secret), []byte(newSecret)) == 1 {
					return fmt.Errorf("secret for token %q: %w", name, store.ErrAlreadyExists)
				}
			}
			d.Tokens[i].Secret = newSecret
		}
		if e.Remark != nil {
			d.Tokens[i].Remark = *e.Remark
		}
		edited = d.Tokens[i]
		return nil
	})
	if err != nil {
		return Token{}, err
	}

	r.logger.Info("token edited", "name", name, "secret_changed", newSecret != "")
	return edited, nil
}

// Settings returns the current settings
func (r *Registry) Settings(ctx context.Context) Settings {
	return r.docs.Load(ctx).Settings
}

// UpdateSettings validates and stores s, then notifies OnSettingsChange hooks
func (r *Registry) UpdateSettings(ctx context.Context, s Settings) (Settings, error) {
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	err := r.docs.Update(ctx, func(d *Document) error {
		if d.Settings == s {
			return store.ErrUnchanged
		}
		d.Settings = s
		return nil
	})
	if err != nil {
		return Settings{}, err
	}

	r.logger.Info("settings updated",
		"history_limit", s.HistoryLimit,
		"page_size", s.PageSize,
		"allow_new_token", s.AllowNewToken,
	)

	r.hookMu.Lock()
	hooks := append([]func(Settings){}, r.hooks...)
	r.hookMu.Unlock()
	for _, fn := range hooks {
		fn(s)
	}
	return s, nil
}

// OnSettingsChange registers fn to run after every successful UpdateSettings
func (r *Registry) OnSettingsChange(fn func(Settings)) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.hooks = append(r.hooks, fn)
}

func generateSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
