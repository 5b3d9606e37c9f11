package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"mriprep/internal/ledger"
	"mriprep/internal/logging"
	"mriprep/internal/services"
	"mriprep/internal/spatial"
)

// Subject locates one subject's input files. Secondary may be empty.
type Subject struct {
	ID        string
	Primary   string
	Secondary string
}

// DiscoverSubjects finds primary images under dir. Without a subject list,
// every file matching pattern is a primary image and the subject id is the
// file name up to its last underscore (sub-01_T1.nii.gz -> sub-01). With a
// list, each id selects the first file matching *<id>*<pattern>. When
// secondaryPattern is set, *<id>*<secondaryPattern> supplies the secondary
// image and files matching it are never treated as primaries. Ids from the
// list with no primary image are returned in unmatched.
func DiscoverSubjects(dir, pattern, secondaryPattern string, subjectIDs []string) (subjects []Subject, unmatched []string, err error) {
	if strings.TrimSpace(pattern) == "" {
		pattern = "*.nii.gz"
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, nil, services.Wrap(services.ErrMissingResource, "batch", "discover subjects", "Check the input directory", err)
	}
	if !info.IsDir() {
		return nil, nil, services.Wrap(services.ErrMissingResource, "batch", "discover subjects", "",
			fmt.Errorf("%s is not a directory", dir))
	}

	seen := make(map[string]bool)
	add := func(id, primary string) error {
		if seen[id] {
			return nil
		}
		seen[id] = true
		secondary, err := findSecondary(dir, id, primary, secondaryPattern)
		if err != nil {
			return err
		}
		subjects = append(subjects, Subject{ID: id, Primary: primary, Secondary: secondary})
		return nil
	}

	if len(subjectIDs) > 0 {
		for _, id := range subjectIDs {
			matches, err := glob(dir, "*"+id+"*"+strings.TrimLeft(pattern, "*"))
			if err != nil {
				return nil, nil, err
			}
			matches = withoutSecondary(matches, secondaryPattern)
			if len(matches) == 0 {
				unmatched = append(unmatched, id)
				continue
			}
			if err := add(id, matches[0]); err != nil {
				return nil, nil, err
			}
		}
		return subjects, unmatched, nil
	}

	matches, err := glob(dir, pattern)
	if err != nil {
		return nil, nil, err
	}
	for _, path := range withoutSecondary(matches, secondaryPattern) {
		if err := add(SubjectIDFromPath(path), path); err != nil {
			return nil, nil, err
		}
	}
	return subjects, nil, nil
}

// SubjectIDFromPath strips the NIfTI extension and the trailing
// _<modality> suffix from a file name.
func SubjectIDFromPath(path string) string {
	name := filepath.Base(path)
	for _, ext := range []string{".nii.gz", ".nii"} {
		if strings.HasSuffix(name, ext) {
			name = strings.TrimSuffix(name, ext)
			break
		}
	}
	if i := strings.LastIndex(name, "_"); i > 0 {
		return name[:i]
	}
	return name
}

// ReadSubjectList reads one subject id per line, ignoring blank lines and
// # comments.
func ReadSubjectList(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, services.Wrap(services.ErrMissingResource, "batch", "read subject list", "Check the subject list path", err)
	}
	defer file.Close()

	var ids []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read subject list: %w", err)
	}
	return ids, nil
}

func findSecondary(dir, id, primary, secondaryPattern string) (string, error) {
	if strings.TrimSpace(secondaryPattern) == "" {
		return "", nil
	}
	matches, err := glob(dir, "*"+id+"*"+strings.TrimLeft(secondaryPattern, "*"))
	if err != nil {
		return "", err
	}
	for _, m := range matches {
		if m != primary {
			return m, nil
		}
	}
	return "", nil
}

func withoutSecondary(paths []string, secondaryPattern string) []string {
	if strings.TrimSpace(secondaryPattern) == "" {
		return paths
	}
	return slices.DeleteFunc(slices.Clone(paths), func(p string) bool {
		ok, _ := filepath.Match(secondaryPattern, filepath.Base(p))
		return ok
	})
}

func glob(dir, pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "batch", "match pattern",
			"Use shell glob syntax such as *_T1.nii.gz", err)
	}
	return matches, nil
}

// SubjectResult is the outcome of one subject in a batch.
type SubjectResult struct {
	Subject      Subject
	RunID        string
	Status       ledger.Status
	Steps        []spatial.Step
	Degradations int
	Duration     time.Duration
	Err          error
}

// BatchReport lists every subject outcome in processing order.
type BatchReport struct {
	Results []SubjectResult
}

// Succeeded counts subjects that finished without a fatal error.
func (r BatchReport) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.Err == nil {
			n++
		}
	}
	return n
}

// Failed counts subjects that stopped on a fatal error.
func (r BatchReport) Failed() int {
	return len(r.Results) - r.Succeeded()
}

// Batch processes subjects one after another. A failing subject never stops
// its siblings; only preflight failures and cancellation end the batch early.
func (o *Orchestrator) Batch(ctx context.Context, subjects []Subject) (BatchReport, error) {
	var report BatchReport
	if err := o.Preflight(ctx); err != nil {
		return report, err
	}

	for i, subject := range subjects {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		logger := logging.WithContext(services.WithSubject(ctx, subject.ID), o.logger)
		logger.Info(
			"batch subject started",
			logging.String(logging.FieldEventType, "batch_subject_start"),
			logging.String("position", fmt.Sprintf("%d/%d", i+1, len(subjects))),
			logging.String("primary", subject.Primary),
			logging.String("secondary", subject.Secondary),
		)

		started := time.Now()
		res, err := o.RunFiles(ctx, subject.ID, subject.Primary, subject.Secondary)
		entry := SubjectResult{Subject: subject, Status: ledger.StatusFailed, Duration: time.Since(started), Err: err}
		if res != nil {
			entry.RunID = res.RunID
			entry.Status = res.Status
			entry.Steps = res.Data.ProcessingSteps()
			entry.Degradations = len(res.Data.Degradations())
		}
		if err != nil {
			logging.WarnWithContext(logger, "batch subject failed; continuing", "batch_subject_failure",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, services.Details(err).Hint),
				logging.String(logging.FieldImpact, "this subject has no template-space outputs"),
			)
		}
		report.Results = append(report.Results, entry)
	}

	o.logger.Info(
		"batch finished",
		logging.String(logging.FieldEventType, "batch_complete"),
		logging.Int("subjects", len(report.Results)),
		logging.Int("succeeded", report.Succeeded()),
		logging.Int("failed", report.Failed()),
	)
	return report, nil
}
