package artifacts

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Beaconwise-Labs/tek/pkg/replay"
	"github.com/Beaconwise-Labs/tek/pkg/stablehash"
)

// Archive stores sealed replay packages keyed by their package hash.
type Archive struct {
	blob Blob
}

// NewArchive wraps a blob backend in the package-level archive contract.
func NewArchive(blob Blob) *Archive {
	return &Archive{blob: blob}
}

// Put archives a sealed package and returns its package hash. The seal is
// checked before anything is written; an unsealed or tampered package is
// rejected. Archiving the same package twice is a no-op.
func (a *Archive) Put(ctx context.Context, pkg replay.Package) (string, error) {
	if pkg.PackageHash == "" {
		return "", fmt.Errorf("package is not sealed")
	}
	ok, err := pkg.VerifySeal()
	if err != nil {
		return "", fmt.Errorf("seal check failed: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("package seal does not match contents")
	}

	data, err := stablehash.Canonical(pkg)
	if err != nil {
		return "", fmt.Errorf("failed to encode package: %w", err)
	}
	if err := a.blob.Put(ctx, pkg.PackageHash, data); err != nil {
		return "", err
	}
	return pkg.PackageHash, nil
}

// Get loads a package by hash and re-verifies its seal, so a blob mutated
// at rest is detected on read.
func (a *Archive) Get(ctx context.Context, hash string) (replay.Package, error) {
	data, err := a.blob.Get(ctx, hash)
	if err != nil {
		return replay.Package{}, err
	}

	var pkg replay.Package
	if err := json.Unmarshal(data, &pkg); err != nil {
		return replay.Package{}, fmt.Errorf("failed to decode package %s: %w", hash, err)
	}
	if pkg.PackageHash != hash {
		return replay.Package{}, fmt.Errorf("archive key %s does not match stored package hash %s", hash, pkg.PackageHash)
	}
	ok, err := pkg.VerifySeal()
	if err != nil {
		return replay.Package{}, fmt.Errorf("seal check failed for %s: %w", hash, err)
	}
	if !ok {
		return replay.Package{}, fmt.Errorf("stored package %s fails seal verification", hash)
	}
	return pkg, nil
}

// Has reports whether a package with the given hash is archived.
func (a *Archive) Has(ctx context.Context, hash string) (bool, error) {
	return a.blob.Exists(ctx, hash)
}

// Delete removes an archived package.
func (a *Archive) Delete(ctx context.Context, hash string) error {
	return a.blob.Delete(ctx, hash)
}

// Verify loads an archived package and runs the full offline verification
// suite against it.
func (a *Archive) Verify(ctx context.Context, hash string) (replay.VerifyResult, error) {
	pkg, err := a.Get(ctx, hash)
	if err != nil {
		return replay.VerifyResult{}, err
	}
	//nolint:wrapcheck // verification errors carry their own context
	return replay.Verify(pkg)
}
