// Package builder turns an uploaded tarball into a built, tagged
// container image and a persisted Project row.
package builder

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/ini.v1"

	"github.com/geoge23/fats/pkg/archive"
	"github.com/geoge23/fats/pkg/log"
	"github.com/geoge23/fats/pkg/metrics"
	"github.com/geoge23/fats/pkg/storage"
	"github.com/geoge23/fats/pkg/subprocess"
	"github.com/geoge23/fats/pkg/types"
)

// nameGrammar matches types.RepoNamePattern, compiled once.
var nameGrammar = regexp.MustCompile(types.RepoNamePattern)

// PlanGeneratorVersion pins the release of the external build-plan
// generator this Builder downloads and invokes.
const PlanGeneratorVersion = "v0.15.1"

// Config configures a Builder.
type Config struct {
	Store storage.Store
	// WorkRoot is the process-lifetime temp directory uploads are
	// extracted under; each upload gets its own uuid-named
	// subdirectory.
	WorkRoot string
	// BinDir is where the plan-generator binary is cached if
	// /usr/local/bin isn't writable.
	BinDir string
}

// Builder orchestrates extraction, options parsing, external plan
// generation, and the external image build for one uploaded tarball at
// a time (concurrent uploads run independently; nothing here is
// globally serialized beyond the plan-generator binary download).
type Builder struct {
	store    storage.Store
	workRoot string
	binDir   string

	binMu   sync.Mutex
	binPath string
}

// New returns a Builder. It does not create any directories; callers
// must ensure cfg.WorkRoot and cfg.BinDir exist.
func New(cfg Config) *Builder {
	return &Builder{store: cfg.Store, workRoot: cfg.WorkRoot, binDir: cfg.BinDir}
}

// Options is the parsed contents of an upload's options.ini [fats]
// section, defaulted when the file or section is absent.
type Options struct {
	Name           string
	Version        string
	DesiredSecrets []string
}

// BuildFromTarball extracts the gzip+tar stream r, parses its
// options.ini, invokes the external plan generator and image builder,
// and upserts the resulting Project. It returns the persisted Project.
func (b *Builder) BuildFromTarball(ctx context.Context, r io.Reader) (*types.Project, error) {
	timer := metrics.NewTimer()
	project, err := b.buildFromTarball(ctx, r)
	timer.ObserveDuration(metrics.BuildDuration)
	if err != nil {
		metrics.BuildsTotal.WithLabelValues("failure").Inc()
		return nil, err
	}
	metrics.BuildsTotal.WithLabelValues("success").Inc()
	return project, nil
}

func (b *Builder) buildFromTarball(ctx context.Context, r io.Reader) (*types.Project, error) {
	workDir := filepath.Join(b.workRoot, uuid.NewString())
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("builder: creating work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	log.Logger.Info().Str("work_dir", workDir).Msg("extracting uploaded tarball")
	if err := archive.Extract(r, workDir); err != nil {
		return nil, fmt.Errorf("builder: extracting upload: %w", err)
	}

	buildDir, err := resolveBuildDir(workDir)
	if err != nil {
		return nil, err
	}

	opts, err := parseOptions(buildDir)
	if err != nil {
		return nil, fmt.Errorf("builder: parsing options.ini: %w", err)
	}

	plog := log.WithProject(opts.Name, opts.Version)
	plog.Info().Msg("parsed project options")

	planPath := filepath.Join(buildDir, "fats-plan.json")
	infoPath := filepath.Join(buildDir, "fats-info.json")

	planBin, err := b.ensurePlanGenerator(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := subprocess.Run(ctx, planBin, []string{
		"prepare", buildDir, "--plan-out", planPath, "--info-out", infoPath,
	}, subprocess.Options{Stream: true}); err != nil {
		return nil, fmt.Errorf("builder: plan generator failed: %w", err)
	}
	plog.Info().Msg("build plan generated")

	if err := validateDockerNameVersion(opts.Name, opts.Version); err != nil {
		return nil, fmt.Errorf("builder: %w", err)
	}

	image := fmt.Sprintf("%s:%s", opts.Name, opts.Version)
	buildxCmd := determineBuildxCommand()
	args := append(buildxCmd[1:], "build",
		"--build-arg", "BUILDKIT_SYNTAX=ghcr.io/railwayapp/railpack-frontend",
		"--tag", image,
		"--progress=plain",
		"-f", planPath,
		buildDir,
	)
	if _, err := subprocess.Run(ctx, buildxCmd[0], args, subprocess.Options{Stream: true}); err != nil {
		return nil, fmt.Errorf("builder: image build failed: %w", err)
	}
	plog.Info().Str("image", image).Msg("image built")

	project, err := b.store.UpsertProject(ctx, &types.Project{
		Name:           opts.Name,
		Version:        opts.Version,
		Image:          image,
		DesiredSecrets: opts.DesiredSecrets,
	})
	if err != nil {
		return nil, fmt.Errorf("builder: persisting project: %w", err)
	}
	return project, nil
}

// resolveBuildDir implements the "multi-top-level-entry archive uses
// extraction dir directly" rule: if the upload contains exactly one
// top-level directory, that directory is the build root; otherwise the
// extraction directory itself is.
func resolveBuildDir(extractDir string) (string, error) {
	entries, err := archive.TopLevelEntries(extractDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 1 {
		candidate := filepath.Join(extractDir, entries[0])
		info, err := os.Stat(candidate)
		if err == nil && info.IsDir() {
			return candidate, nil
		}
	}
	return extractDir, nil
}

// parseOptions reads dir/options.ini's [fats] section, defaulting Name
// to the directory's base name and Version to "0.0.1" when the file or
// individual keys are missing.
func parseOptions(dir string) (*Options, error) {
	opts := &Options{Name: filepath.Base(dir), Version: "0.0.1"}

	path := filepath.Join(dir, "options.ini")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return opts, nil
	}

	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading options.ini: %w", err)
	}
	section := cfg.Section("fats")

	if key := section.Key("name"); key.String() != "" {
		opts.Name = key.String()
	}
	if key := section.Key("version"); key.String() != "" {
		opts.Version = key.String()
	}
	if key := section.Key("desired_secrets"); key.String() != "" {
		var secrets []string
		for _, s := range strings.Split(key.String(), ",") {
			if s = strings.TrimSpace(s); s != "" {
				secrets = append(secrets, s)
			}
		}
		opts.DesiredSecrets = secrets
	}
	return opts, nil
}

func validateDockerNameVersion(name, version string) error {
	if !nameGrammar.MatchString(name) || len(name) > types.MaxNameLength {
		return fmt.Errorf("invalid project name: %q", name)
	}
	if !nameGrammar.MatchString(version) || len(version) > types.MaxVersionLength {
		return fmt.Errorf("invalid project version: %q", version)
	}
	return nil
}

// determineBuildxCommand prefers a docker-cli-plugin-docker-buildx
// binary on PATH, falling back to the "docker buildx" subcommand form.
func determineBuildxCommand() []string {
	if path, err := lookPath("docker-cli-plugin-docker-buildx"); err == nil {
		return []string{path}
	}
	return []string{"docker", "buildx"}
}

// lookPath is a variable so tests can stub out PATH lookups.
var lookPath = exec.LookPath

// ensurePlanGenerator returns the path to a usable plan-generator
// binary, downloading and caching it on first use. /usr/local/bin is
// preferred when writable; otherwise the binary lives under BinDir.
func (b *Builder) ensurePlanGenerator(ctx context.Context) (string, error) {
	b.binMu.Lock()
	defer b.binMu.Unlock()

	if b.binPath != "" {
		return b.binPath, nil
	}

	target := filepath.Join("/usr/local/bin", "fats-planner")
	if !writable("/usr/local/bin") {
		target = filepath.Join(b.binDir, "fats-planner")
	}

	if info, err := os.Stat(target); err == nil && !info.IsDir() {
		b.binPath = target
		return target, nil
	}

	if runtime.GOOS != "linux" {
		return "", fmt.Errorf("builder: unsupported platform %q, only linux is supported", runtime.GOOS)
	}

	arch, err := planGeneratorArch()
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf(
		"https://github.com/railwayapp/railpack/releases/download/%s/railpack-%s-%s-unknown-linux-musl.tar.gz",
		PlanGeneratorVersion, PlanGeneratorVersion, arch,
	)
	if err := downloadAndExtractBinary(ctx, url, "railpack", target); err != nil {
		return "", fmt.Errorf("builder: fetching plan generator: %w", err)
	}
	b.binPath = target
	return target, nil
}

func planGeneratorArch() (string, error) {
	switch runtime.GOARCH {
	case "arm64":
		return "arm64", nil
	case "amd64":
		return "x86_64", nil
	default:
		return "", fmt.Errorf("builder: unsupported architecture %q", runtime.GOARCH)
	}
}

func writable(dir string) bool {
	probe := filepath.Join(dir, ".fats-write-probe")
	f, err := os.OpenFile(probe, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(probe)
	return true
}

// downloadAndExtractBinary downloads a gzip+tar release archive from
// url and writes the single entry named memberName out to target with
// executable permissions.
func downloadAndExtractBinary(ctx context.Context, url, memberName, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading %s: unexpected status %s", url, resp.Status)
	}

	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		return fmt.Errorf("opening gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return fmt.Errorf("member %q not found in %s", memberName, url)
		}
		if err != nil {
			return fmt.Errorf("reading tar entry: %w", err)
		}
		if filepath.Base(header.Name) != memberName {
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("creating bin directory: %w", err)
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
		if err != nil {
			return fmt.Errorf("creating %s: %w", target, err)
		}
		defer out.Close()
		if _, err := io.Copy(out, tr); err != nil {
			return fmt.Errorf("writing %s: %w", target, err)
		}
		return nil
	}
}
