package comparer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/wonderfulspam/model-smith/pkg/differ"
	"github.com/wonderfulspam/model-smith/pkg/parser"
	"github.com/wonderfulspam/model-smith/pkg/value"
)

// CompareDirs pairs the files of two directory trees by relative path. A
// file present on one side only becomes an Added or Removed record at its
// relative path; a file on both sides is compared and its records are
// rooted under "<rel>/". Files that cannot be read are logged and skipped.
func (c *Comparer) CompareDirs(ctx context.Context, oldDir, newDir string) (*Report, error) {
	ctx, span := tracer.Start(ctx, "comparer.CompareDirs")
	defer span.End()

	oldFiles, err := listFiles(oldDir)
	if err != nil {
		return nil, err
	}
	newFiles, err := listFiles(newDir)
	if err != nil {
		return nil, err
	}

	report := &Report{ID: uuid.New(), OldPath: oldDir, NewPath: newDir}
	for _, rel := range union(oldFiles, newFiles) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		inOld, inNew := oldFiles[rel], newFiles[rel]
		switch {
		case inOld && !inNew:
			report.Records = append(report.Records, differ.Removed(rel, value.String(rel)))
			continue
		case inNew && !inOld:
			report.Records = append(report.Records, differ.Added(rel, value.String(rel)))
			continue
		}

		sub, err := c.CompareFiles(ctx, filepath.Join(oldDir, rel), filepath.Join(newDir, rel))
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			c.logger.Warn("skipping file", zap.String("file", rel), zap.Error(err))
			continue
		}
		for _, r := range sub.Records {
			report.Records = append(report.Records, r.WithPathPrefix(rel))
		}
		report.OldTensors = append(report.OldTensors, sub.OldTensors...)
		report.NewTensors = append(report.NewTensors, sub.NewTensors...)
		for _, a := range sub.Annotations {
			a.Tensor = rel + "/" + a.Tensor
			report.Annotations = append(report.Annotations, a)
		}
	}

	if c.policy.SortByMagnitude {
		differ.SortByMagnitude(report.Records)
	}
	sortAnnotations(report.Annotations)
	report.finish()
	span.SetAttributes(
		attribute.Int("files", len(oldFiles)+len(newFiles)),
		attribute.Int("records", len(report.Records)),
	)
	return report, nil
}

// listFiles returns the regular files under dir keyed by slash-separated
// relative path. Files with an unknown extension are left out.
func listFiles(dir string) (map[string]bool, error) {
	files := make(map[string]bool)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if _, err := parser.DetectFormat(path); err != nil {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	return files, nil
}

func union(a, b map[string]bool) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, m := range []map[string]bool{a, b} {
		for k := range m {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	sort.Strings(out)
	return out
}
