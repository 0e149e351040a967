package upgrade

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/cuemby/sentinel/pkg/log"
	"github.com/cuemby/sentinel/pkg/types"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/retry"
	"github.com/rs/zerolog"
)

// Fetched is a new binary staged in a work directory
type Fetched struct {
	// Binary is the path of the executable to install
	Binary string

	// Archive is the downloaded release artifact, empty for source builds
	Archive string

	// Source names the retriever that produced the binary
	Source string
}

// BinaryInstaller stages a new binary and puts binaries in place
type BinaryInstaller interface {
	Fetch(ctx context.Context, svc types.ServiceIdentity, target types.Version, workDir string) (Fetched, error)
	Install(src, dst string) error
}

// Retriever produces a binary for a release in workDir
type Retriever interface {
	Name() string
	Retrieve(ctx context.Context, svc types.ServiceIdentity, target types.Version, workDir string) (Fetched, error)
}

// Installer tries each retriever in order and installs with an atomic
// rename.
type Installer struct {
	retrievers []Retriever
	logger     zerolog.Logger
}

// NewInstaller creates an installer using the given retrievers in order
func NewInstaller(retrievers ...Retriever) *Installer {
	return &Installer{
		retrievers: retrievers,
		logger:     log.WithComponent("installer"),
	}
}

// Fetch returns the first binary a retriever manages to produce
func (i *Installer) Fetch(ctx context.Context, svc types.ServiceIdentity, target types.Version, workDir string) (Fetched, error) {
	if len(i.retrievers) == 0 {
		return Fetched{}, errors.New("no binary retrievers configured")
	}

	var failures []string
	for _, r := range i.retrievers {
		dir := filepath.Join(workDir, r.Name())
		if err := os.MkdirAll(dir, 0755); err != nil {
			return Fetched{}, errors.Trace(err)
		}

		fetched, err := r.Retrieve(ctx, svc, target, dir)
		if err == nil {
			fetched.Source = r.Name()
			i.logger.Info().
				Str("component", string(svc.Component)).
				Str("source", r.Name()).
				Str("binary", fetched.Binary).
				Msg("New binary staged")
			return fetched, nil
		}

		i.logger.Warn().Err(err).Str("source", r.Name()).Msg("Binary retrieval failed")
		failures = append(failures, fmt.Sprintf("%s: %v", r.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}
	return Fetched{}, errors.Errorf("could not obtain %s %s (%s)", svc.Name, target.Number, strings.Join(failures, "; "))
}

// Install copies src over dst with mode 0755
func (i *Installer) Install(src, dst string) error {
	if err := copyFile(src, dst, 0755); err != nil {
		return errors.Annotatef(err, "failed to install %s", dst)
	}
	return nil
}

// ExpandPattern fills {repo}, {tag}, {version} and {arch} in an artifact
// URL pattern.
func ExpandPattern(pattern, repo string, target types.Version, arch string) string {
	return strings.NewReplacer(
		"{repo}", repo,
		"{tag}", target.Tag,
		"{version}", target.Number,
		"{arch}", arch,
	).Replace(pattern)
}

// binaryNames lists the file names a release archive may use for svc
func binaryNames(svc types.ServiceIdentity) []string {
	names := []string{}
	if svc.BuildOutput != "" {
		names = append(names, filepath.Base(svc.BuildOutput))
	}
	if base := filepath.Base(svc.BinaryPath); base != "." && base != "/" {
		names = append(names, base)
	}
	return names
}

type statusError struct {
	code int
	url  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("GET %s returned HTTP %d", e.url, e.code)
}

// ArtifactRetriever downloads a prebuilt release artifact
type ArtifactRetriever struct {
	Client   *http.Client
	Clock    clock.Clock
	Arch     string
	Attempts int
	Delay    time.Duration
}

// NewArtifactRetriever creates a retriever with three attempts and a
// doubling delay starting at five seconds
func NewArtifactRetriever() *ArtifactRetriever {
	return &ArtifactRetriever{
		Client:   &http.Client{Timeout: 10 * time.Minute},
		Clock:    clock.WallClock,
		Arch:     runtime.GOARCH,
		Attempts: 3,
		Delay:    5 * time.Second,
	}
}

func (a *ArtifactRetriever) Name() string { return "artifact" }

// Retrieve downloads the artifact for target and extracts the binary
func (a *ArtifactRetriever) Retrieve(ctx context.Context, svc types.ServiceIdentity, target types.Version, workDir string) (Fetched, error) {
	url := target.DownloadURL
	if url == "" && svc.ArtifactPattern != "" {
		url = ExpandPattern(svc.ArtifactPattern, svc.ReleaseRepo, target, a.Arch)
	}
	if url == "" {
		return Fetched{}, errors.NotFoundf("download URL for %s %s", svc.Name, target.Number)
	}

	archive := filepath.Join(workDir, filepath.Base(url))
	logger := log.WithComponent("installer")

	err := retry.Call(retry.CallArgs{
		Func: func() error {
			return a.download(ctx, url, archive)
		},
		IsFatalError: func(err error) bool {
			var se *statusError
			if errors.As(err, &se) {
				return se.code >= 400 && se.code < 500 && se.code != http.StatusTooManyRequests
			}
			return ctx.Err() != nil
		},
		NotifyFunc: func(err error, attempt int) {
			logger.Warn().Err(err).Int("attempt", attempt).Str("url", url).Msg("Download attempt failed")
		},
		Attempts:    a.Attempts,
		Delay:       a.Delay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       a.Clock,
		Stop:        ctx.Done(),
	})
	if err != nil {
		return Fetched{}, errors.Annotatef(retry.LastError(err), "failed to download %s", url)
	}

	binary, err := extractBinary(archive, workDir, binaryNames(svc))
	if err != nil {
		return Fetched{}, errors.Trace(err)
	}
	return Fetched{Binary: binary, Archive: archive}, nil
}

func (a *ArtifactRetriever) download(ctx context.Context, url, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Trace(err)
	}
	resp, err := a.Client.Do(req)
	if err != nil {
		return errors.Trace(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &statusError{code: resp.StatusCode, url: url}
	}

	f, err := os.Create(dst)
	if err != nil {
		return errors.Trace(err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return errors.Annotate(err, "download interrupted")
	}
	return errors.Trace(f.Close())
}

// extractBinary returns the binary inside a gzipped tarball, or the file
// itself when it is not gzip compressed.
func extractBinary(archive, workDir string, names []string) (string, error) {
	f, err := os.Open(archive)
	if err != nil {
		return "", errors.Trace(err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	magic, _ := br.Peek(2)
	if !bytes.Equal(magic, []byte{0x1f, 0x8b}) {
		if err := os.Chmod(archive, 0755); err != nil {
			return "", errors.Trace(err)
		}
		return archive, nil
	}

	gz, err := gzip.NewReader(br)
	if err != nil {
		return "", errors.Annotate(err, "invalid gzip archive")
	}
	defer gz.Close()

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", errors.Annotate(err, "invalid tar archive")
		}
		if hdr.Typeflag != tar.TypeReg || !wanted[filepath.Base(hdr.Name)] {
			continue
		}

		dst := filepath.Join(workDir, "bin", filepath.Base(hdr.Name))
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return "", errors.Trace(err)
		}
		out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0755)
		if err != nil {
			return "", errors.Trace(err)
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return "", errors.Annotate(err, "failed to extract binary")
		}
		if err := out.Close(); err != nil {
			return "", errors.Trace(err)
		}
		return dst, nil
	}
	return "", errors.NotFoundf("binary %s in archive", strings.Join(names, " or "))
}

// SourceBuilder clones the release tag and runs the build command
type SourceBuilder struct {
	Git          string
	BaseURL      string
	CloneTimeout time.Duration
	BuildTimeout time.Duration
}

// NewSourceBuilder creates a builder cloning from github.com
func NewSourceBuilder() *SourceBuilder {
	return &SourceBuilder{
		Git:          "git",
		BaseURL:      "https://github.com",
		CloneTimeout: 5 * time.Minute,
		BuildTimeout: 10 * time.Minute,
	}
}

func (s *SourceBuilder) Name() string { return "source" }

// Retrieve builds target from source
func (s *SourceBuilder) Retrieve(ctx context.Context, svc types.ServiceIdentity, target types.Version, workDir string) (Fetched, error) {
	if len(svc.BuildCommand) == 0 || svc.BuildOutput == "" {
		return Fetched{}, errors.NotSupportedf("building %s from source", svc.Name)
	}

	src := filepath.Join(workDir, "src")
	repoURL := fmt.Sprintf("%s/%s.git", strings.TrimRight(s.BaseURL, "/"), svc.ReleaseRepo)
	if err := runCommand(ctx, s.CloneTimeout, "", s.Git, "clone", "--depth", "1", "--branch", target.Tag, repoURL, src); err != nil {
		return Fetched{}, errors.Annotatef(err, "failed to clone %s at %s", svc.ReleaseRepo, target.Tag)
	}

	if err := runCommand(ctx, s.BuildTimeout, src, svc.BuildCommand[0], svc.BuildCommand[1:]...); err != nil {
		return Fetched{}, errors.Annotatef(err, "build of %s failed", svc.Name)
	}

	binary := filepath.Join(src, svc.BuildOutput)
	if _, err := os.Stat(binary); err != nil {
		return Fetched{}, errors.Annotatef(err, "build produced no %s", svc.BuildOutput)
	}
	return Fetched{Binary: binary}, nil
}

func runCommand(ctx context.Context, timeout time.Duration, dir, name string, args ...string) error {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, name, args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return errors.Annotatef(err, "%s: %s", name, lastLine(msg))
		}
		return errors.Annotate(err, name)
	}
	return nil
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
