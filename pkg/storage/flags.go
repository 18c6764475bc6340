package storage

import "os"

func fileOpenFlags() int {
	return os.O_RDWR | os.O_CREATE
}
