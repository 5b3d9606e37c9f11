package ants

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mriprep/internal/niftiio"
	"mriprep/internal/services"
	"mriprep/internal/volume"
	"mriprep/internal/xform"
)

// EngineName tags transforms produced by this client.
const EngineName = "ants"

const (
	registrationScript = "antsRegistrationSyNQuick.sh"
	applyBinary        = "antsApplyTransforms"
	atroposBinary      = "Atropos"
	outputTail         = 20
)

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onStdout func(string)) error
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// Client runs ANTs tools.
type Client struct {
	binDir  string
	workDir string
	threads int
	timeout time.Duration
	exec    Executor
}

// New constructs an ANTs client. workDir receives per-call scratch
// directories, grouped under RunDir when the context carries a run id.
func New(binDir, workDir string, threads, timeoutSeconds int, opts ...Option) (*Client, error) {
	workDir = strings.TrimSpace(workDir)
	if workDir == "" {
		return nil, errors.New("ants work directory required")
	}
	if threads < 1 {
		threads = 1
	}
	client := &Client{
		binDir:  strings.TrimSpace(binDir),
		workDir: workDir,
		threads: threads,
		timeout: time.Duration(timeoutSeconds) * time.Second,
		exec:    commandExecutor{},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Binaries lists the executables the client may invoke.
func Binaries() []string {
	return []string{registrationScript, applyBinary, atroposBinary}
}

func (c *Client) binary(name string) string {
	if c.binDir == "" {
		return name
	}
	return filepath.Join(c.binDir, name)
}

// RunDir is the directory holding every scratch directory created for runID.
// The caller owning the run removes it once outputs are persisted.
func RunDir(workDir, runID string) string {
	return filepath.Join(workDir, "run-"+runID)
}

func (c *Client) scratch(ctx context.Context, kind string) (string, error) {
	parent := c.workDir
	if runID, ok := services.RunIDFromContext(ctx); ok {
		parent = RunDir(c.workDir, runID)
	}
	dir := filepath.Join(parent, kind+"-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create ants scratch dir: %w", err)
	}
	return dir, nil
}

func (c *Client) run(ctx context.Context, name string, args []string) error {
	runCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	var (
		mu   sync.Mutex
		tail []string
	)
	err := c.exec.Run(runCtx, c.binary(name), args, func(line string) {
		mu.Lock()
		defer mu.Unlock()
		tail = append(tail, line)
		if len(tail) > outputTail {
			tail = tail[1:]
		}
	})
	if err != nil {
		if len(tail) > 0 {
			return fmt.Errorf("%s: %w\n%s", name, err, strings.Join(tail, "\n"))
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Register implements xform.Registrar.
func (c *Client) Register(ctx context.Context, fixed, moving *volume.Volume, family xform.Family) (xform.Result, error) {
	flag, err := familyFlag(family)
	if err != nil {
		return xform.Result{}, err
	}
	dir, err := c.scratch(ctx, "reg")
	if err != nil {
		return xform.Result{}, err
	}
	fixedPath := filepath.Join(dir, "fixed.nii.gz")
	movingPath := filepath.Join(dir, "moving.nii.gz")
	if err := niftiio.Write(fixedPath, fixed); err != nil {
		return xform.Result{}, err
	}
	if err := niftiio.Write(movingPath, moving); err != nil {
		return xform.Result{}, err
	}

	prefix := filepath.Join(dir, "out_")
	args := []string{
		"-d", "3",
		"-f", fixedPath,
		"-m", movingPath,
		"-o", prefix,
		"-t", flag,
		"-n", strconv.Itoa(c.threads),
	}
	if err := c.run(ctx, registrationScript, args); err != nil {
		return xform.Result{}, err
	}

	affine := prefix + "0GenericAffine.mat"
	forward := []xform.Step{{Path: affine}}
	inverse := []xform.Step{{Path: affine, Invert: true}}
	if family == xform.FamilyNonlinear {
		forward = append([]xform.Step{{Path: prefix + "1Warp.nii.gz"}}, forward...)
		inverse = append(inverse, xform.Step{Path: prefix + "1InverseWarp.nii.gz"})
	}
	for _, step := range forward {
		if _, err := os.Stat(step.Path); err != nil {
			return xform.Result{}, fmt.Errorf("%s produced no %s: %w", registrationScript, filepath.Base(step.Path), err)
		}
	}

	warped, err := niftiio.Read(prefix + "Warped.nii.gz")
	if err != nil {
		return xform.Result{}, fmt.Errorf("read warped image: %w", err)
	}
	return xform.Result{
		Warped:  warped,
		Forward: xform.Transform{Engine: EngineName, Family: family, Reference: fixed.Grid, Steps: forward},
		Inverse: xform.Transform{Engine: EngineName, Family: family, Reference: moving.Grid, Steps: inverse},
	}, nil
}

// Apply implements xform.Applier. Transforms made only of matrices are
// resampled in-process.
func (c *Client) Apply(ctx context.Context, img *volume.Volume, t xform.Transform, interp xform.Interpolation) (*volume.Volume, error) {
	if _, err := t.Matrices(); err == nil {
		return xform.Resample(ctx, img, t, interp)
	}
	var mode string
	switch interp {
	case xform.InterpNearest:
		mode = "NearestNeighbor"
	case xform.InterpLinear:
		mode = "Linear"
	default:
		return nil, errors.New("apply transform: interpolation must be chosen explicitly")
	}

	dir, err := c.scratch(ctx, "apply")
	if err != nil {
		return nil, err
	}
	inputPath := filepath.Join(dir, "input.nii.gz")
	referencePath := filepath.Join(dir, "reference.nii.gz")
	outputPath := filepath.Join(dir, "output.nii.gz")
	if err := niftiio.Write(inputPath, img); err != nil {
		return nil, err
	}
	if err := niftiio.Write(referencePath, volume.New(t.Reference)); err != nil {
		return nil, err
	}

	args := []string{"-d", "3", "-i", inputPath, "-r", referencePath, "-o", outputPath, "-n", mode}
	for _, step := range t.Steps {
		if step.Matrix != nil {
			return nil, fmt.Errorf("%w: matrix step mixed with ANTs files", xform.ErrUnsupportedStep)
		}
		if step.Invert {
			args = append(args, "-t", "["+step.Path+",1]")
		} else {
			args = append(args, "-t", step.Path)
		}
	}
	if err := c.run(ctx, applyBinary, args); err != nil {
		return nil, err
	}
	out, err := niftiio.Read(outputPath)
	if err != nil {
		return nil, fmt.Errorf("read resampled image: %w", err)
	}
	out.Grid = t.Reference
	return out, nil
}

// Segment runs Atropos k-means segmentation inside mask.
func (c *Client) Segment(ctx context.Context, img, mask *volume.Volume, classes int) (volume.TissueMaps, error) {
	if classes != 3 {
		return volume.TissueMaps{}, fmt.Errorf("atropos segmentation expects 3 classes, got %d", classes)
	}
	if mask == nil {
		mask = img.Binarize(0)
	}
	dir, err := c.scratch(ctx, "seg")
	if err != nil {
		return volume.TissueMaps{}, err
	}
	imgPath := filepath.Join(dir, "image.nii.gz")
	maskPath := filepath.Join(dir, "mask.nii.gz")
	if err := niftiio.Write(imgPath, img); err != nil {
		return volume.TissueMaps{}, err
	}
	if err := niftiio.Write(maskPath, mask); err != nil {
		return volume.TissueMaps{}, err
	}

	segPath := filepath.Join(dir, "seg.nii.gz")
	probPattern := filepath.Join(dir, "prob%02d.nii.gz")
	args := []string{
		"-d", "3",
		"-a", imgPath,
		"-x", maskPath,
		"-i", fmt.Sprintf("KMeans[%d]", classes),
		"-c", "[5,0]",
		"-m", "[0.2,1x1x1]",
		"-o", "[" + segPath + "," + probPattern + "]",
	}
	if err := c.run(ctx, atroposBinary, args); err != nil {
		return volume.TissueMaps{}, err
	}

	var maps volume.TissueMaps
	if maps.Labels, err = niftiio.Read(segPath); err != nil {
		return volume.TissueMaps{}, fmt.Errorf("read atropos labels: %w", err)
	}
	targets := []**volume.Volume{&maps.CSF, &maps.GM, &maps.WM}
	for i, target := range targets {
		if *target, err = niftiio.Read(fmt.Sprintf(probPattern, i+1)); err != nil {
			return volume.TissueMaps{}, fmt.Errorf("read atropos posterior %d: %w", i+1, err)
		}
	}
	return maps, nil
}

func familyFlag(family xform.Family) (string, error) {
	switch family {
	case xform.FamilyRigid:
		return "r", nil
	case xform.FamilyAffine:
		return "a", nil
	case xform.FamilyNonlinear:
		return "s", nil
	default:
		return "", fmt.Errorf("ants: unknown transform family %q", family)
	}
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, onStdout func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	var wg sync.WaitGroup
	var scanErr error
	var once sync.Once

	scan := func(r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			if onStdout != nil {
				onStdout(scanner.Text())
			}
		}
		if err := scanner.Err(); err != nil {
			once.Do(func() {
				scanErr = err
			})
		}
	}

	wg.Add(2)
	go scan(stdout)
	go scan(stderr)

	wg.Wait()
	if scanErr != nil {
		_ = cmd.Process.Kill()
		return fmt.Errorf("scan output: %w", scanErr)
	}
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("wait command: %w", err)
	}
	return nil
}
