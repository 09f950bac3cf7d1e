// Package dump implements an offline content source backed by JSON exports.
//
// Each account lives in {dir}/{username}.json:
//
//	{"profile": {...}, "posts": [...], "saved": [...]}
//
// posts and saved are listed newest-first, exactly as the remote feed returns them.
package dump

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/post-archiver/internal/archive"
)

type export struct {
	Profile archive.ProfileRecord `json:"profile"`
	Posts   []archive.PostRecord  `json:"posts"`
	Saved   []archive.PostRecord  `json:"saved"`
}

// Source reads account exports from a directory.
type Source struct {
	dir string
}

// New constructs a Source rooted at dir.
func New(dir string) (*Source, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat dump dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("dump dir %s is not a directory", dir)
	}
	return &Source{dir: dir}, nil
}

func (s *Source) load(username string) (export, error) {
	if username == "" || strings.ContainsAny(username, `/\`) || strings.HasPrefix(username, ".") {
		return export{}, fmt.Errorf("%w: %q", archive.ErrProfileNotFound, username)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, username+".json"))
	if errors.Is(err, os.ErrNotExist) {
		return export{}, fmt.Errorf("%w: %s", archive.ErrProfileNotFound, username)
	}
	if err != nil {
		return export{}, fmt.Errorf("read export %s: %w", username, err)
	}
	var e export
	if err := json.Unmarshal(data, &e); err != nil {
		return export{}, fmt.Errorf("decode export %s: %w", username, err)
	}
	if e.Profile.Username == "" {
		e.Profile.Username = username
	}
	for i := range e.Posts {
		if e.Posts[i].OwnerUsername == "" {
			e.Posts[i].OwnerUsername = e.Profile.Username
		}
	}
	return e, nil
}

// FetchProfile returns the exported profile for username.
func (s *Source) FetchProfile(ctx context.Context, username string) (archive.ProfileRecord, error) {
	if err := ctx.Err(); err != nil {
		return archive.ProfileRecord{}, err
	}
	e, err := s.load(username)
	if err != nil {
		return archive.ProfileRecord{}, err
	}
	return e.Profile, nil
}

// Posts returns the profile's timeline.
func (s *Source) Posts(_ context.Context, profile archive.ProfileRecord) (archive.PostSequence, error) {
	e, err := s.load(profile.Username)
	if err != nil {
		return nil, err
	}
	return &sequence{records: e.Posts}, nil
}

// SavedPosts returns the posts saved by profile.
func (s *Source) SavedPosts(_ context.Context, profile archive.ProfileRecord) (archive.PostSequence, error) {
	e, err := s.load(profile.Username)
	if err != nil {
		return nil, err
	}
	return &sequence{records: e.Saved}, nil
}

// FetchPost looks a shortcode up across every export's timeline and saved lists.
func (s *Source) FetchPost(ctx context.Context, shortcode string) (archive.PostRecord, error) {
	files, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return archive.PostRecord{}, fmt.Errorf("list exports: %w", err)
	}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return archive.PostRecord{}, err
		}
		e, err := s.load(strings.TrimSuffix(filepath.Base(file), ".json"))
		if err != nil {
			return archive.PostRecord{}, err
		}
		for _, records := range [][]archive.PostRecord{e.Posts, e.Saved} {
			for _, r := range records {
				if r.Shortcode == shortcode {
					return r, nil
				}
			}
		}
	}
	return archive.PostRecord{}, &archive.PostNotFoundError{Shortcode: shortcode}
}

type sequence struct {
	records []archive.PostRecord
	pos     int
}

func (s *sequence) Next(ctx context.Context) (archive.PostRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return archive.PostRecord{}, false, err
	}
	if s.pos >= len(s.records) {
		return archive.PostRecord{}, false, nil
	}
	r := s.records[s.pos]
	s.pos++
	return r, true, nil
}
