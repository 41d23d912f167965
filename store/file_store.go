package store

import (
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// FileSystem keeps each value in its own file below root. Files are spread
// over two levels of subdirectories named after the first four characters of
// the key, so "abcdef" is stored as root/ab/cd/abcdef. Values are written
// into a scratch directory first and renamed into place when the writer is
// closed, so a reader never sees a half written value.
type FileSystem struct {
	root string

	// Log receives errors met while listing. Defaults to the logrus
	// standard logger.
	Log logrus.FieldLogger
}

const (
	// the subdir to store files while they are being written to.
	scratchdir = "scratch"
)

var (
	// make sure it implements the Store interface
	_ Store = &FileSystem{}

	// ErrKeyContainsSlash means the key provided contains a forward slash '/'
	ErrKeyContainsSlash = errors.New("key contains forward slash")

	// ErrKeyContainsNonUnicode means the key provided is not valid UTF-8
	ErrKeyContainsNonUnicode = errors.New("key contains non-unicode character")

	// ErrKeyContainsWhiteSpace means the key provided contains white space
	ErrKeyContainsWhiteSpace = errors.New("key contains white space")

	// ErrKeyContainsControlChar means the key provided contains control characters
	ErrKeyContainsControlChar = errors.New("key contains control characters")

	// ErrEmptyKey means the key is the empty string
	ErrEmptyKey = errors.New("key is empty")
)

// NewFileSystem creates a new FileSystem store based at the given root path.
func NewFileSystem(root string) *FileSystem {
	return &FileSystem{root: root, Log: logrus.StandardLogger()}
}

// Root returns the directory the store lives in.
func (s *FileSystem) Root() string {
	return s.root
}

// List returns a channel listing all the keys in this store.
func (s *FileSystem) List() <-chan string {
	c := make(chan string)
	go s.walkTree(c, s.root, 0)
	return c
}

// Perform depth first walk of file tree at root, emitting all keys on
// channel out. Files in the scratch directory are skipped since they are
// still being written.
//
// If level is 0, the channel is closed when the function exits.
func (s *FileSystem) walkTree(out chan<- string, root string, level int) {
	if level == 0 {
		defer close(out)
	}
	f, err := os.Open(root)
	if err != nil {
		s.logError(err, root)
		return
	}
	defer f.Close()
	for {
		entries, err := f.Readdir(1000)
		if err == io.EOF {
			return
		} else if err != nil {
			// we have no other way of passing this error back
			s.logError(err, root)
			return
		}
		for _, e := range entries {
			// only descend at most two directories down, and only
			// list files in the second level. 0/1/2
			if e.IsDir() {
				if level < 2 && !(level == 0 && e.Name() == scratchdir) {
					p := filepath.Join(root, e.Name())
					s.walkTree(out, p, level+1)
				}
				continue
			}
			if level != 2 {
				continue
			}
			out <- e.Name()
		}
	}
}

func (s *FileSystem) logError(err error, dir string) {
	if os.IsNotExist(err) {
		// an empty store has no directories yet
		return
	}
	s.Log.WithField("dir", dir).WithError(err).Error("listing store")
	raven.CaptureError(err, map[string]string{"dir": dir})
}

// ListPrefix returns a list of all the keys beginning with the given prefix.
func (s *FileSystem) ListPrefix(prefix string) ([]string, error) {
	var glob string
	switch len(prefix) {
	case 0:
		glob = "*/*"
	case 1:
		glob = prefix + "*/*"
	case 2:
		glob = prefix[0:2] + "/*"
	case 3:
		glob = prefix[0:2] + "/" + prefix[2:3] + "*"
	default:
		glob = prefix[0:2] + "/" + prefix[2:4]
	}
	glob = filepath.Join(s.root, glob, prefix+"*")
	result, err := filepath.Glob(glob)
	if err == nil {
		for i := range result {
			result[i] = path.Base(result[i])
		}
	}
	return result, err
}

// Open returns a reader for the given value along with its size.
func (s *FileSystem) Open(key string) (ReadAtCloser, int64, error) {
	if err := isKeyValid(key); err != nil {
		return nil, 0, err
	}
	f, err := os.Open(s.filename(key))
	if os.IsNotExist(err) {
		return nil, 0, errors.Wrap(ErrNotFound, key)
	} else if err != nil {
		return nil, 0, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, fi.Size(), nil
}

// Create makes a new value with the given key, and returns a writer to
// save data into it. It is an error if the key already exists.
func (s *FileSystem) Create(key string) (io.WriteCloser, error) {
	if err := isKeyValid(key); err != nil {
		return nil, err
	}
	// first set up the eventual home dir of this file
	target, err := s.setupSubDir(itemSubdir(key), key)
	if err != nil {
		return nil, err
	}
	if _, err = os.Stat(target); !os.IsNotExist(err) {
		return nil, errors.Wrap(ErrKeyExists, key)
	}
	// now set up the scratch location we will temporarily save the file to
	temp, err := s.setupSubDir(scratchdir, key)
	if err != nil {
		return nil, err
	}
	// O_EXCL keeps two writers of the same key apart
	w, err := os.OpenFile(temp, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
	if os.IsExist(err) {
		return nil, errors.Wrap(ErrKeyExists, key)
	} else if err != nil {
		return nil, err
	}
	return &moveCloser{File: w, source: temp, target: target}, nil
}

// setupSubDir makes sure the given subdirectory exists under the root, and
// then returns the absolute path to the keyed file, and an optional error.
func (s *FileSystem) setupSubDir(subdir, key string) (string, error) {
	dir := filepath.Join(s.root, subdir)
	err := os.MkdirAll(dir, 0775)
	return filepath.Join(dir, key), err
}

func (s *FileSystem) filename(key string) string {
	return filepath.Join(s.root, itemSubdir(key), key)
}

// track the file so when it is closed, we can move it into the correct place
type moveCloser struct {
	*os.File
	source string
	target string
}

func (w *moveCloser) Close() error {
	err := w.File.Close()
	if err != nil {
		os.Remove(w.source)
		return err
	}
	if _, err = os.Stat(w.target); !os.IsNotExist(err) {
		os.Remove(w.source)
		return ErrKeyExists
	}
	return os.Rename(w.source, w.target)
}

// Delete the given key from the store. It is not an error if the key doesn't
// exist.
func (s *FileSystem) Delete(key string) error {
	if err := isKeyValid(key); err != nil {
		return err
	}
	err := os.Remove(s.filename(key))
	// don't report a missing file as an error
	if err != nil && os.IsNotExist(err) {
		err = nil
	}
	return err
}

// Given a key, return the subdirectory its file is stored in
// e.g. "abcdd123" returns "ab/cd/"
func itemSubdir(key string) string {
	switch len(key) {
	case 0:
		return "./"
	case 1, 2:
		return key + "/"
	case 3:
		return key[0:2] + "/" + key[2:3] + "/"
	}
	return key[0:2] + "/" + key[2:4] + "/"
}

func isKeyValid(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if !utf8.ValidString(key) {
		return ErrKeyContainsNonUnicode
	}
	if strings.Contains(key, "/") {
		return ErrKeyContainsSlash
	}
	for _, r := range key {
		if unicode.IsSpace(r) {
			return ErrKeyContainsWhiteSpace
		}
		if unicode.IsControl(r) {
			return ErrKeyContainsControlChar
		}
	}
	return nil
}
