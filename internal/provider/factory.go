package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/kursadbilgin/authbatch/internal/credentials"
)

type buildFunc func(ctx context.Context, cred credentials.Credential) (AuthProvider, error)

type cachedProvider struct {
	fingerprint string
	provider    AuthProvider
}

// Factory hands out one cached provider per project. A project whose
// service-account key changed gets a freshly built provider in place of the
// old one.
type Factory struct {
	mu    sync.Mutex
	cache map[string]cachedProvider
	build buildFunc
}

func NewFactory(identityToolkitURL string) *Factory {
	return newFactory(func(ctx context.Context, cred credentials.Credential) (AuthProvider, error) {
		return NewFirebaseProvider(ctx, cred, identityToolkitURL)
	})
}

func newFactory(build buildFunc) *Factory {
	return &Factory{
		cache: make(map[string]cachedProvider),
		build: build,
	}
}

func (f *Factory) ForProject(ctx context.Context, cred credentials.Credential) (AuthProvider, error) {
	if cred.ProjectID == "" {
		return nil, fmt.Errorf("credential project id is required")
	}

	fingerprint := credentialFingerprint(cred)

	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.cache[cred.ProjectID]; ok && cached.fingerprint == fingerprint {
		return cached.provider, nil
	}

	// Cached clients outlive the calling task, so their token sources must not
	// inherit its cancellation.
	p, err := f.build(context.WithoutCancel(ctx), cred)
	if err != nil {
		return nil, err
	}
	f.cache[cred.ProjectID] = cachedProvider{fingerprint: fingerprint, provider: p}
	return p, nil
}

func credentialFingerprint(cred credentials.Credential) string {
	sum := sha256.New()
	sum.Write([]byte(cred.ClientEmail))
	sum.Write([]byte{0})
	sum.Write(cred.JSON)
	return hex.EncodeToString(sum.Sum(nil))
}
