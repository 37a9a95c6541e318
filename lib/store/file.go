package store

import (
	"errors"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// File is a Store backed by a YAML document on disk. Every write replaces
// the whole document through a temporary file and a rename, so readers
// see either the old or the new set of fields.
type File struct {
	mu   sync.Mutex
	path string
}

// NewFile returns a File store at path. The parent directory is created
// on the first write.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the location of the backing document.
func (f *File) Path() string {
	return f.path
}

func (f *File) Get(key string) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return 0, false, err
	}
	v, ok := doc[key]
	return v, ok, nil
}

func (f *File) Set(fields map[string]int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return err
	}
	maps.Copy(doc, fields)
	return f.save(doc)
}

func (f *File) Delete(keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return err
	}
	n := len(doc)
	for _, k := range keys {
		delete(doc, k)
	}
	if len(doc) == n {
		return nil
	}
	if len(doc) == 0 {
		if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return oops.Wrapf(err, "remove %s", f.path)
		}
		return nil
	}
	return f.save(doc)
}

func (f *File) load() (map[string]int64, error) {
	doc := make(map[string]int64)
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, oops.Wrapf(err, "read %s", f.path)
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, oops.Wrapf(err, "decode %s", f.path)
	}
	if doc == nil {
		doc = make(map[string]int64)
	}
	return doc, nil
}

func (f *File) save(doc map[string]int64) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return oops.Wrapf(err, "encode offset fields")
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return oops.Wrapf(err, "create %s", dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return oops.Wrapf(err, "create temp file in %s", dir)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return oops.Wrapf(err, "write %s", tmpName)
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return oops.Wrapf(err, "sync %s", tmpName)
	}
	if err = tmp.Close(); err != nil {
		return oops.Wrapf(err, "close %s", tmpName)
	}
	if err = os.Rename(tmpName, f.path); err != nil {
		return oops.Wrapf(err, "replace %s", f.path)
	}

	log.WithFields(logger.Fields{
		"at":     "store.File.save",
		"path":   f.path,
		"fields": len(doc),
	}).Debug("offset fields written")
	return nil
}
