//go:build unix

package guard

import (
	"golang.org/x/sys/unix"
)

func inspect(dir string) (dirInfo, error) {
	var st unix.Stat_t
	if err := unix.Stat(dir, &st); err != nil {
		return dirInfo{}, err
	}
	mode := uint32(st.Mode) //nolint:unconvert // uint16 on darwin
	return dirInfo{
		mode:        mode & 0o777,
		isDir:       mode&unix.S_IFMT == unix.S_IFDIR,
		ownedBySelf: int(st.Uid) == unix.Geteuid(),
	}, nil
}
