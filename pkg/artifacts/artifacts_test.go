package artifacts

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Beaconwise-Labs/tek/pkg/epack"
	"github.com/Beaconwise-Labs/tek/pkg/replay"
	"github.com/Beaconwise-Labs/tek/pkg/stablehash"
)

func testClock() func() time.Time {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n := 0
	return func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

func testPayload(t *testing.T, interaction int) map[string]any {
	t.Helper()
	return map[string]any{
		"interaction":    interaction,
		"route":          "TDM",
		"profile":        "STANDARD",
		"user_text_hash": stablehash.HashBytes([]byte("hello")),
	}
}

func sealedPackage(t *testing.T) replay.Package {
	t.Helper()
	clock := testClock()
	prev := epack.Genesis
	var chain []epack.Record
	for i := 1; i <= 3; i++ {
		rec, err := epack.New(i, prev, testPayload(t, i), epack.WithClock(clock))
		if err != nil {
			t.Fatalf("seal record %d: %v", i, err)
		}
		chain = append(chain, rec)
		prev = rec.Hash
	}
	pkg, err := replay.Build(chain, replay.BuildOptions{
		KernelVersion:     "v1.9.0",
		GovernanceProfile: "A_STANDARD",
		ValidatorSetID:    "vs-default",
		Clock:             clock,
	})
	if err != nil {
		t.Fatalf("build package: %v", err)
	}
	return pkg
}

func TestFileBlobRoundTrip(t *testing.T) {
	blob, err := NewFileBlob(t.TempDir())
	if err != nil {
		t.Fatalf("new file blob: %v", err)
	}
	ctx := context.Background()
	key := stablehash.HashBytes([]byte("k"))

	ok, err := blob.Exists(ctx, key)
	if err != nil || ok {
		t.Fatalf("fresh store: exists=%v err=%v", ok, err)
	}
	if err := blob.Put(ctx, key, []byte(`{"a":1}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	// Second put with different bytes is a no-op: first write wins.
	if err := blob.Put(ctx, key, []byte(`{"a":2}`)); err != nil {
		t.Fatalf("second put: %v", err)
	}
	got, err := blob.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != `{"a":1}` {
		t.Fatalf("got %q, want first write retained", got)
	}
	if ok, _ := blob.Exists(ctx, key); !ok {
		t.Fatalf("exists after put = false")
	}
	if err := blob.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := blob.Delete(ctx, key); err != nil {
		t.Fatalf("second delete should be a no-op, got %v", err)
	}
	if _, err := blob.Get(ctx, key); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("get after delete: %v", err)
	}
}

func TestFileBlobRejectsBadKeys(t *testing.T) {
	blob, err := NewFileBlob(t.TempDir())
	if err != nil {
		t.Fatalf("new file blob: %v", err)
	}
	ctx := context.Background()

	for _, key := range []string{
		"",
		"abc",
		"../../../../etc/passwd0000000000000000000000000000000000000000000000",
		strings.Repeat("z", 64),
	} {
		if err := blob.Put(ctx, key, []byte("x")); err == nil {
			t.Fatalf("put accepted bad key %q", key)
		}
		if _, err := blob.Get(ctx, key); err == nil {
			t.Fatalf("get accepted bad key %q", key)
		}
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	blob, err := NewFileBlob(t.TempDir())
	if err != nil {
		t.Fatalf("new file blob: %v", err)
	}
	archive := NewArchive(blob)
	ctx := context.Background()
	pkg := sealedPackage(t)

	hash, err := archive.Put(ctx, pkg)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if hash != pkg.PackageHash {
		t.Fatalf("archive key %s != package hash %s", hash, pkg.PackageHash)
	}
	ok, err := archive.Has(ctx, hash)
	if err != nil || !ok {
		t.Fatalf("has: ok=%v err=%v", ok, err)
	}

	got, err := archive.Get(ctx, hash)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.EpackHeadHash != pkg.EpackHeadHash {
		t.Fatalf("head hash changed across round trip")
	}
	if len(got.EpackChain) != 3 {
		t.Fatalf("chain length = %d, want 3", len(got.EpackChain))
	}

	res, err := archive.Verify(ctx, hash)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.OK {
		t.Fatalf("verify not OK: %+v", res.Checks)
	}
}

func TestArchiveRejectsUnsealedPackage(t *testing.T) {
	blob, err := NewFileBlob(t.TempDir())
	if err != nil {
		t.Fatalf("new file blob: %v", err)
	}
	archive := NewArchive(blob)
	ctx := context.Background()

	pkg := sealedPackage(t)
	pkg.PackageHash = ""
	if _, err := archive.Put(ctx, pkg); err == nil || !strings.Contains(err.Error(), "not sealed") {
		t.Fatalf("unsealed package: %v", err)
	}

	pkg = sealedPackage(t)
	pkg.KernelVersion = "v0.0.0"
	if _, err := archive.Put(ctx, pkg); err == nil || !strings.Contains(err.Error(), "seal does not match") {
		t.Fatalf("tampered package: %v", err)
	}
}

func TestArchiveDetectsMutationAtRest(t *testing.T) {
	dir := t.TempDir()
	blob, err := NewFileBlob(dir)
	if err != nil {
		t.Fatalf("new file blob: %v", err)
	}
	archive := NewArchive(blob)
	ctx := context.Background()
	pkg := sealedPackage(t)

	hash, err := archive.Put(ctx, pkg)
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	// Flip the kernel version inside the stored object without touching
	// the recorded package hash.
	path := filepath.Join(dir, hash+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read stored package: %v", err)
	}
	mutated := bytes.Replace(data, []byte(`"v1.9.0"`), []byte(`"v9.9.9"`), 1)
	if bytes.Equal(mutated, data) {
		t.Fatalf("mutation did not apply")
	}
	if err := os.WriteFile(path, mutated, 0o644); err != nil {
		t.Fatalf("write mutated package: %v", err)
	}

	if _, err := archive.Get(ctx, hash); err == nil || !strings.Contains(err.Error(), "seal verification") {
		t.Fatalf("mutated package: %v", err)
	}
}

func TestOpenArchiveSchemes(t *testing.T) {
	ctx := context.Background()

	if _, err := OpenArchive(ctx, "file://"+t.TempDir()); err != nil {
		t.Fatalf("file scheme: %v", err)
	}
	if _, err := OpenArchive(ctx, t.TempDir()); err != nil {
		t.Fatalf("bare path: %v", err)
	}
	if _, err := OpenArchive(ctx, "ftp://host/x"); err == nil || !strings.Contains(err.Error(), "unsupported archive scheme") {
		t.Fatalf("ftp scheme: %v", err)
	}
	if _, err := OpenArchive(ctx, "s3://"); err == nil || !strings.Contains(err.Error(), "no bucket") {
		t.Fatalf("bucketless s3: %v", err)
	}
}

func TestOpenArchiveFromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvArtifactStore, "file://"+dir)

	archive, err := OpenArchiveFromEnv(context.Background())
	if err != nil {
		t.Fatalf("open from env: %v", err)
	}
	ctx := context.Background()
	pkg := sealedPackage(t)
	if _, err := archive.Put(ctx, pkg); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, pkg.PackageHash+".json")); err != nil {
		t.Fatalf("package not written under env dir: %v", err)
	}
}

func TestKeyPrefix(t *testing.T) {
	cases := map[string]string{
		"":          "",
		"/":         "",
		"/replay":   "replay/",
		"/a/b/":     "a/b/",
		"nested/p/": "nested/p/",
	}
	for in, want := range cases {
		if got := keyPrefix(in); got != want {
			t.Fatalf("keyPrefix(%q) = %q, want %q", in, got, want)
		}
	}
}
