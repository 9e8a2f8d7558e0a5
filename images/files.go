package images

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LoadImageFile reads an image from disk, enforcing the allowed extensions and the upload
// size limit.
func LoadImageFile(path string) (*Image, error) {
	name := filepath.Base(path)
	if !AllowedFile(name) {
		return nil, fmt.Errorf("%s: unsupported file type", name)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > MaxUploadSize {
		return nil, fmt.Errorf("%s: %d bytes exceeds the %d byte limit", name, info.Size(), MaxUploadSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &Image{Name: name, Format: DetectFormat(data), Data: data}, nil
}

// ViewPair is a front and side image of the same subject.
type ViewPair struct {
	Subject string
	Front   string
	Side    string
}

// LoadDirectoryPairs finds "<subject>_front.<ext>" and "<subject>_side.<ext>" files in dir
// and pairs them by subject. Subjects missing either view are skipped.
//
// Arguments:
// - dir: Directory path containing image files.
//
// Returns:
// - []ViewPair: Complete pairs sorted by subject.
// - error: Error if the directory cannot be read.
func LoadDirectoryPairs(dir string) ([]ViewPair, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	pairs := map[string]*ViewPair{}
	for _, entry := range entries {
		if entry.IsDir() || !AllowedFile(entry.Name()) {
			continue
		}
		stem := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		path := filepath.Join(dir, entry.Name())

		for suffix, set := range map[string]func(*ViewPair){
			"_front": func(p *ViewPair) { p.Front = path },
			"_side":  func(p *ViewPair) { p.Side = path },
		} {
			if subject, ok := strings.CutSuffix(stem, suffix); ok {
				if pairs[subject] == nil {
					pairs[subject] = &ViewPair{Subject: subject}
				}
				set(pairs[subject])
			}
		}
	}

	var out []ViewPair
	for _, p := range pairs {
		if p.Front != "" && p.Side != "" {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Subject < out[j].Subject })
	return out, nil
}
