package install

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	lspDomain "github.com/Strob0t/forgelsp/internal/domain/lsp"
)

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func digestOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func newTestRelease(t *testing.T, url string, sidecar bool) ReleaseConfig {
	t.Helper()
	return ReleaseConfig{
		Language: lspDomain.LanguageRust,
		Version:  "2025-01-06",
		Root:     t.TempDir(),
		Resolve: func(string, string, string) (Artifact, error) {
			return Artifact{URL: url, Archive: ArchiveGzip, Binary: "rust-analyzer", Sidecar: sidecar}, nil
		},
	}
}

func TestReleaseInstall(t *testing.T) {
	artifact := gzipBytes(t, []byte("#!/bin/sh\necho ra\n"))
	srv := serveBytes(t, map[string][]byte{"/ra.gz": artifact})

	cfg := newTestRelease(t, srv.URL+"/ra.gz", false)
	cfg.Checksum = strings.ToUpper(digestOf(artifact))
	cfg.HTTPClient = srv.Client()
	in := NewReleaseInstaller(cfg)

	if in.IsInstalled() {
		t.Fatal("installed before Install")
	}
	if _, err := in.ServerCommand(); !errors.Is(err, lspDomain.ErrServerNotInstalled) {
		t.Fatalf("ServerCommand before install: %v", err)
	}

	var last Progress
	if err := in.Install(context.Background(), Options{Progress: func(p Progress) { last = p }}); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if last.Percentage != 100 {
		t.Errorf("last progress = %+v", last)
	}
	if !in.IsInstalled() {
		t.Fatal("not installed after Install")
	}
	argv, err := in.ServerCommand()
	if err != nil {
		t.Fatalf("ServerCommand: %v", err)
	}
	want := filepath.Join(cfg.Root, "rust", "2025-01-06", "rust-analyzer")
	if len(argv) != 1 || argv[0] != want {
		t.Errorf("argv = %v, want [%s]", argv, want)
	}
	assertNoStaging(t, filepath.Join(cfg.Root, "rust"))
}

func TestReleaseInstallChecksumMismatch(t *testing.T) {
	artifact := gzipBytes(t, []byte("tampered"))
	srv := serveBytes(t, map[string][]byte{"/ra.gz": artifact})

	cfg := newTestRelease(t, srv.URL+"/ra.gz", false)
	cfg.Checksum = strings.Repeat("0", 64)
	cfg.HTTPClient = srv.Client()
	in := NewReleaseInstaller(cfg)

	err := in.Install(context.Background(), Options{})
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("err = %v, want ErrChecksumMismatch", err)
	}
	if in.IsInstalled() {
		t.Error("mismatched artifact was installed")
	}
	assertNoStaging(t, filepath.Join(cfg.Root, "rust"))
}

func TestReleaseInstallSidecar(t *testing.T) {
	artifact := gzipBytes(t, []byte("jdtls"))
	srv := serveBytes(t, map[string][]byte{
		"/ra.gz":        artifact,
		"/ra.gz.sha256": []byte(digestOf(artifact) + "  ra.gz\n"),
	})

	cfg := newTestRelease(t, srv.URL+"/ra.gz", true)
	cfg.HTTPClient = srv.Client()
	in := NewReleaseInstaller(cfg)

	if err := in.Install(context.Background(), Options{}); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if !in.IsInstalled() {
		t.Error("not installed")
	}
}

func TestReleaseInstallUnknownChecksum(t *testing.T) {
	artifact := gzipBytes(t, []byte("unverified"))
	srv := serveBytes(t, map[string][]byte{"/ra.gz": artifact})

	cfg := newTestRelease(t, srv.URL+"/ra.gz", false)
	cfg.HTTPClient = srv.Client()

	err := NewReleaseInstaller(cfg).Install(context.Background(), Options{})
	if !errors.Is(err, ErrChecksumUnknown) {
		t.Fatalf("err = %v, want ErrChecksumUnknown", err)
	}

	cfg.AllowUnverified = true
	in := NewReleaseInstaller(cfg)
	if err := in.Install(context.Background(), Options{}); err != nil {
		t.Fatalf("Install with allow_unverified: %v", err)
	}
	if !in.IsInstalled() {
		t.Error("not installed")
	}
}

func TestReleaseInstallCancelled(t *testing.T) {
	artifact := gzipBytes(t, bytes.Repeat([]byte{1, 2, 3, 4}, 64*1024))
	srv := serveBytes(t, map[string][]byte{"/ra.gz": artifact})

	cfg := newTestRelease(t, srv.URL+"/ra.gz", false)
	cfg.AllowUnverified = true
	cfg.HTTPClient = srv.Client()
	in := NewReleaseInstaller(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := in.Install(ctx, Options{}); !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if in.IsInstalled() {
		t.Error("cancelled install left a binary")
	}
}

func assertNoStaging(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read %s: %v", dir, err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".staging-") {
			t.Errorf("staging dir %s left behind", e.Name())
		}
	}
}

func TestExtractTarGz(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(zw)
	files := []struct {
		name string
		body string
	}{
		{"bin/jdtls", "#!/bin/sh\n"},
		{"config_linux/config.ini", "osgi"},
	}
	for _, f := range files {
		hdr := &tar.Header{Name: f.name, Mode: 0o755, Size: int64(len(f.body)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(f.body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	src := filepath.Join(t.TempDir(), "a.tar.gz")
	if err := os.WriteFile(src, buf.Bytes(), 0o600); err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	if err := extract(ArchiveTarGz, src, dir, "bin/jdtls"); err != nil {
		t.Fatalf("extract: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "config_linux", "config.ini"))
	if err != nil || string(got) != "osgi" {
		t.Errorf("config.ini = (%q, %v)", got, err)
	}
}

func TestExtractRejectsTraversal(t *testing.T) {
	t.Run("tar", func(t *testing.T) {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		tw := tar.NewWriter(zw)
		_ = tw.WriteHeader(&tar.Header{Name: "../evil", Mode: 0o644, Size: 1, Typeflag: tar.TypeReg})
		_, _ = tw.Write([]byte("x"))
		_ = tw.Close()
		_ = zw.Close()

		src := filepath.Join(t.TempDir(), "evil.tar.gz")
		if err := os.WriteFile(src, buf.Bytes(), 0o600); err != nil {
			t.Fatal(err)
		}
		if err := extract(ArchiveTarGz, src, t.TempDir(), ""); err == nil {
			t.Error("expected traversal error")
		}
	})

	t.Run("zip", func(t *testing.T) {
		var buf bytes.Buffer
		zw := zip.NewWriter(&buf)
		w, err := zw.Create("../../evil")
		if err != nil {
			t.Fatal(err)
		}
		_, _ = w.Write([]byte("x"))
		_ = zw.Close()

		src := filepath.Join(t.TempDir(), "evil.zip")
		if err := os.WriteFile(src, buf.Bytes(), 0o600); err != nil {
			t.Fatal(err)
		}
		if err := extract(ArchiveZip, src, t.TempDir(), ""); err == nil {
			t.Error("expected traversal error")
		}
	})
}

func TestResolvers(t *testing.T) {
	art, err := resolveRustAnalyzer("2025-01-06", "linux", "amd64")
	if err != nil {
		t.Fatal(err)
	}
	if art.URL != "https://github.com/rust-lang/rust-analyzer/releases/download/2025-01-06/rust-analyzer-x86_64-unknown-linux-gnu.gz" {
		t.Errorf("rust url = %s", art.URL)
	}
	if _, err := resolveRustAnalyzer("2025-01-06", "plan9", "386"); err == nil {
		t.Error("expected error for unsupported platform")
	}

	art, _ = resolveJDTLS(DefaultJDTLSTimestamp)("1.40.0", "darwin", "arm64")
	if !art.Sidecar || art.Archive != ArchiveTarGz || art.Binary != "bin/jdtls" {
		t.Errorf("jdtls artifact = %+v", art)
	}
	if !strings.HasSuffix(art.URL, "/1.40.0/jdt-language-server-1.40.0-202409261450.tar.gz") {
		t.Errorf("jdtls url = %s", art.URL)
	}

	art, _ = resolveKotlin("1.3.13", "windows", "amd64")
	if art.Binary != "server/bin/kotlin-language-server.bat" {
		t.Errorf("kotlin binary = %s", art.Binary)
	}
}
