// Package resolve turns a source argument into a local path. Existing local
// paths are used in place; anything else (git URLs, archives, s3, http) is
// fetched with go-getter into a temporary directory.
package resolve

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-getter"
	"go.uber.org/zap"

	"github.com/teranos/ixbulk/errors"
)

// Source is a resolved local source. Call Cleanup when the import is done.
type Source struct {
	// LocalPath is the directory or file to import
	LocalPath string
	// Original is the argument as given
	Original string
	// Fetched is true when LocalPath is a temporary download
	Fetched bool
	// TempDir holds the download; empty for local sources
	TempDir string

	cleanup func()
}

// Cleanup removes temporary downloads. Safe to call more than once.
func (s *Source) Cleanup() {
	if s.cleanup != nil {
		s.cleanup()
		s.cleanup = nil
	}
}

// Resolve returns a local path for src. "~/" is expanded.
func Resolve(ctx context.Context, src string, log *zap.SugaredLogger) (*Source, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	expanded, err := expandHome(src)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(expanded); err == nil {
		abs, err := filepath.Abs(expanded)
		if err != nil {
			return nil, errors.Wrapf(err, "resolve %s", src)
		}
		return &Source{LocalPath: abs, Original: src}, nil
	}

	pwd, err := os.Getwd()
	if err != nil {
		pwd = "."
	}
	detected, err := getter.Detect(expanded, pwd, getter.Detectors)
	if err != nil {
		return nil, errors.WithHint(errors.Wrapf(err, "detect source %s", src),
			"use a local path, a git URL or a go-getter address such as git::https://host/repo.git?ref=main")
	}
	if strings.HasPrefix(detected, "file://") {
		return nil, errors.NewNotFoundError("source %s does not exist", src)
	}

	tempDir, err := os.MkdirTemp("", "ixbulk-src-*")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create temp directory")
	}
	dst := filepath.Join(tempDir, sourceName(src))

	log.Infow("Fetching source", "source", src, "detected", detected, "destination", dst)
	client := &getter.Client{
		Ctx:  ctx,
		Src:  detected,
		Dst:  dst,
		Pwd:  pwd,
		Mode: getter.ClientModeAny,
	}
	if err := client.Get(); err != nil {
		os.RemoveAll(tempDir)
		return nil, errors.Wrapf(err, "fetch %s", src)
	}
	log.Infow("Fetch completed", "destination", dst)

	return &Source{
		LocalPath: dst,
		Original:  src,
		Fetched:   true,
		TempDir:   tempDir,
		cleanup: func() {
			log.Debugw("Removing fetched source", "path", tempDir)
			os.RemoveAll(tempDir)
		},
	}, nil
}

func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to get home directory")
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}

// sourceName derives the root node name from a URL or path: the last segment
// without query, forced getter or archive suffix
func sourceName(src string) string {
	if i := strings.Index(src, "::"); i >= 0 {
		src = src[i+2:]
	}
	if i := strings.IndexAny(src, "?#"); i >= 0 {
		src = src[:i]
	}
	src = strings.TrimRight(src, "/")
	if i := strings.LastIndexAny(src, "/:"); i >= 0 {
		src = src[i+1:]
	}
	for _, ext := range []string{".git", ".tar.gz", ".tgz", ".zip", ".tar"} {
		src = strings.TrimSuffix(src, ext)
	}
	if src == "" {
		return "source"
	}
	return src
}
