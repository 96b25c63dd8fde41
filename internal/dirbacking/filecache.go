package dirbacking

import "os"

// fileCache keeps a single native file open across consecutive sector
// operations on the same file, mirroring file_start/file_end: reopening a
// file handle for every 128-byte sector would be prohibitively slow for a
// protocol that addresses storage one sector at a time.
type fileCache struct {
	path string
	flag int
	fd   *os.File
}

func (c *fileCache) open(path string, flag int) (*os.File, error) {
	if c.fd != nil && c.path == path && c.flag == flag {
		return c.fd, nil
	}
	c.close()

	fd, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, err
	}
	c.path = path
	c.flag = flag
	c.fd = fd
	return fd, nil
}

func (c *fileCache) close() {
	if c.fd != nil {
		_ = c.fd.Close()
	}
	c.path = ""
	c.flag = 0
	c.fd = nil
}
