package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"dbkeeper/internal/engine"
	"dbkeeper/internal/logging"
	"dbkeeper/internal/vault"
)

// CredentialSource is the vault surface the resolver depends on.
type CredentialSource interface {
	Get(id string) (*vault.Credential, error)
}

// ResolvedInstance pairs a validated declaration with its credential and the
// engine strategy selected for it. Orchestration consumes only this type and
// never re-dispatches on the engine kind.
type ResolvedInstance struct {
	Config     InstanceConfig
	Credential vault.Credential
	Engine     engine.Engine
}

// ConnectionParams assembles the engine connection parameters.
func (ri *ResolvedInstance) ConnectionParams() engine.ConnectionParams {
	return engine.ConnectionParams{
		Host:     ri.Config.Host,
		Port:     ri.Config.Port,
		Username: ri.Credential.Username,
		Password: ri.Credential.Secret,
		SSL:      ri.Config.SSLEnabled,
	}
}

// Resolver merges instance declarations with vault-resolved credentials.
// Resolved secrets live only in the returned value; nothing is persisted.
type Resolver struct {
	credentials CredentialSource
	legacyPath  string
	logger      *logging.Logger
}

// NewResolver creates a resolver. legacyPath may be empty, in which case the
// plaintext fallback is disabled.
func NewResolver(credentials CredentialSource, legacyPath string, logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Resolver{
		credentials: credentials,
		legacyPath:  legacyPath,
		logger:      logger,
	}
}

// Resolve validates one declaration and attaches its credential and engine.
// A credential missing from the vault falls back to the legacy plaintext
// source with a visible downgrade warning; a vault decryption failure aborts
// immediately and is never downgraded.
func (r *Resolver) Resolve(ic InstanceConfig) (*ResolvedInstance, error) {
	if err := ic.Validate(); err != nil {
		return nil, err
	}

	kind, _ := engine.ParseKind(ic.Engine)
	eng, err := engine.ForKind(kind)
	if err != nil {
		return nil, NewConfigError(ic.ID, "engine", err.Error(), nil)
	}

	resolved := &ResolvedInstance{
		Config: ic,
		Engine: eng,
	}

	// Filesystem trees have no credential.
	if kind == engine.KindFilesystem {
		return resolved, nil
	}

	cred, err := r.credentials.Get(ic.CredentialRef)
	switch {
	case err == nil:
		resolved.Credential = *cred
	case vault.IsNotFound(err):
		legacy, legacyErr := r.lookupLegacy(ic.CredentialRef)
		if legacyErr != nil {
			return nil, NewConfigError(ic.ID, "credential_ref",
				"credential not found in vault and no legacy entry available", legacyErr)
		}
		r.logger.LogCredentialFallback(ic.ID, ic.CredentialRef)
		resolved.Credential = *legacy
	default:
		// Decryption and storage failures propagate untouched.
		return nil, err
	}

	return resolved, nil
}

// ResolveAll resolves every enabled declaration, failing fast on the first
// invalid one.
func (r *Resolver) ResolveAll(instances []InstanceConfig) ([]*ResolvedInstance, error) {
	resolved := make([]*ResolvedInstance, 0, len(instances))
	for _, ic := range instances {
		if !ic.Enabled {
			r.logger.Debugf("Skipping disabled instance %s", ic.ID)
			continue
		}
		ri, err := r.Resolve(ic)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, ri)
	}
	return resolved, nil
}

// legacyCredentialFile is the plaintext credential document of older
// deployments: a flat map of credential_ref to username/password.
type legacyCredentialFile struct {
	Credentials map[string]struct {
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"credentials"`
}

func (r *Resolver) lookupLegacy(ref string) (*vault.Credential, error) {
	if r.legacyPath == "" {
		return nil, os.ErrNotExist
	}

	data, err := os.ReadFile(r.legacyPath)
	if err != nil {
		return nil, err
	}

	var file legacyCredentialFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	entry, ok := file.Credentials[ref]
	if !ok {
		return nil, os.ErrNotExist
	}

	return &vault.Credential{
		ID:       ref,
		Username: entry.Username,
		Secret:   entry.Password,
	}, nil
}
