package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Acquisition failure taxonomy. The orchestrator treats all of these as
// pipeline-fatal; none are retried here.
var (
	ErrNoInput           = errors.New("no video input provided")
	ErrUnsupportedFormat = errors.New("unsupported video format")
	ErrSourceUnavailable = errors.New("video source unavailable")
	ErrFetchFailed       = errors.New("video fetch failed")
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// allowedExtensions is the container allow-list for uploads.
var allowedExtensions = map[string]bool{
	".mp4":  true,
	".avi":  true,
	".mov":  true,
	".mkv":  true,
	".webm": true,
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Acquisition describes a locally available video ready for extraction.
type Acquisition struct {
	Path     string // local media file
	Title    string
	Remote   bool   // fetched from a hosting service rather than uploaded
	RemoteID string // stable hosting-service identifier, empty for uploads
}

// AcquirerOptions tunes the remote fetch behaviour.
type AcquirerOptions struct {
	Binary           string // yt-dlp binary, defaults to "yt-dlp"
	UserAgent        string
	SleepInterval    int // polite randomized delay bounds between requests, seconds
	MaxSleepInterval int
}

// Acquirer obtains local video files, either by persisting an upload or by
// fetching from a remote hosting service.
type Acquirer struct {
	runner Runner
	dir    string
	opts   AcquirerOptions
	logger *log.Logger
}

func NewAcquirer(runner Runner, dir string, opts AcquirerOptions, logger *log.Logger) *Acquirer {
	if opts.Binary == "" {
		opts.Binary = "yt-dlp"
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.SleepInterval <= 0 {
		opts.SleepInterval = 1
	}
	if opts.MaxSleepInterval <= 0 {
		opts.MaxSleepInterval = 5
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[ACQ] ", log.LstdFlags)
	}
	return &Acquirer{runner: runner, dir: dir, opts: opts, logger: logger}
}

// SaveUpload validates the uploaded filename against the container allow-list
// and persists the blob under a name namespaced by sessionID so concurrent
// uploads of the same file never collide.
func (a *Acquirer) SaveUpload(sessionID, filename, title string, src io.Reader) (Acquisition, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExtensions[ext] {
		return Acquisition{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	safe := secureFilename(filename)
	dst := filepath.Join(a.dir, sessionID+"_"+safe)

	out, err := os.Create(dst)
	if err != nil {
		return Acquisition{}, fmt.Errorf("persist upload: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, src); err != nil {
		os.Remove(dst)
		return Acquisition{}, fmt.Errorf("persist upload: %w", err)
	}

	if title == "" {
		title = safe
	}
	a.logger.Printf("stored upload %s", dst)
	return Acquisition{Path: dst, Title: title}, nil
}

// Probe checks that a remote video is fetchable (not private, removed or
// region-blocked) without downloading anything.
func (a *Acquirer) Probe(ctx context.Context, url string) error {
	args := []string{
		"--simulate",
		"--quiet",
		"-f", "best[ext=mp4]",
		"--user-agent", a.opts.UserAgent,
		url,
	}
	if _, err := a.runner.Output(ctx, a.opts.Binary, args...); err != nil {
		a.logger.Printf("availability check failed for %s: %v", url, err)
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return nil
}

// Fetch downloads the single best mp4 format for url into the media directory.
// Cookie material, when present, is written to a scratch file for the duration
// of the fetch only and removed afterwards regardless of outcome, since it may
// carry user credentials.
func (a *Acquirer) Fetch(ctx context.Context, url string, cookies []byte) (Acquisition, error) {
	args := []string{
		"--no-warnings",
		"--no-simulate",
		"-f", "best[ext=mp4]",
		"-o", filepath.Join(a.dir, "%(id)s.%(ext)s"),
		"--user-agent", a.opts.UserAgent,
		"--sleep-interval", fmt.Sprintf("%d", a.opts.SleepInterval),
		"--max-sleep-interval", fmt.Sprintf("%d", a.opts.MaxSleepInterval),
		// all three pinned to after_move: yt-dlp groups --print output by
		// stage, so only same-stage templates keep argument order
		"--print", "after_move:filepath",
		"--print", "after_move:id",
		"--print", "after_move:title",
	}

	if len(cookies) > 0 {
		cookieFile := filepath.Join(a.dir, "cookies_"+uuid.NewString()+".txt")
		if err := os.WriteFile(cookieFile, cookies, 0600); err != nil {
			return Acquisition{}, fmt.Errorf("write cookie file: %w", err)
		}
		defer os.Remove(cookieFile)
		args = append(args, "--cookies", cookieFile)
	}
	args = append(args, url)

	out, err := a.runner.Output(ctx, a.opts.Binary, args...)
	if err != nil {
		return Acquisition{}, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) < 3 {
		return Acquisition{}, fmt.Errorf("%w: unexpected yt-dlp output %q", ErrFetchFailed, string(out))
	}
	path := strings.TrimSpace(lines[0])
	id := strings.TrimSpace(lines[1])
	title := strings.TrimSpace(strings.Join(lines[2:], " "))
	if title == "" {
		title = "Untitled Video"
	}

	a.logger.Printf("fetched %s -> %s", url, path)
	return Acquisition{Path: path, Title: title, Remote: true, RemoteID: id}, nil
}

// secureFilename strips path components and characters that are unsafe in a
// filename, mirroring the usual sanitation applied to user-supplied names.
func secureFilename(name string) string {
	name = filepath.Base(name)
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "video"
	}
	return name
}
