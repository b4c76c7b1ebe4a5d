package backing

import (
	"os"
	"sync"
)

// File is a byte-backing store over a single on-disk file. It keeps a
// read handle and a write handle open side by side, following the split
// folio.DB uses between its reader and writer *os.File so that a
// long-lived mmap never races a concurrent append through the same fd's
// offset.
type File struct {
	path string

	mu     sync.Mutex
	reader *os.File
	writer *os.File
	mapped []byte
}

// OpenFile opens (creating if necessary) the file at path for use as a
// byte-backing store.
func OpenFile(path string) (*File, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		f.Close()
	}

	reader, err := os.OpenFile(path, os.O_RDONLY, 0o644)
	if err != nil {
		return nil, err
	}
	writer, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		reader.Close()
		return nil, err
	}
	return &File{path: path, reader: reader, writer: writer}, nil
}

func (f *File) Writer() (Writer, error) {
	info, err := f.writer.Stat()
	if err != nil {
		return nil, err
	}
	return &fileWriter{f: f.writer, off: info.Size()}, nil
}

func (f *File) Reader() (Reader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := os.Open(f.path)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (f *File) Map() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mapped != nil {
		return f.mapped, nil
	}
	data, err := mmapFile(f.reader)
	if err != nil {
		return nil, err
	}
	f.mapped = data
	return data, nil
}

func (f *File) Size() (int64, error) {
	info, err := f.reader.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Close releases both handles and any mapping held by the store.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mapped != nil {
		munmapFile(f.mapped)
		f.mapped = nil
	}
	var firstErr error
	if err := f.reader.Close(); err != nil {
		firstErr = err
	}
	if err := f.writer.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

type fileWriter struct {
	f   *os.File
	off int64
}

func (w *fileWriter) Write(p []byte) (int, error) {
	n, err := w.f.WriteAt(p, w.off)
	w.off += int64(n)
	return n, err
}

func (w *fileWriter) Shutdown() error {
	return w.f.Sync()
}
