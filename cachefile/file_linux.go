// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

//go:build linux
// +build linux

package cachefile

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/dyssol-sim/distcache/cachefs"
)

// preallocate grows f to at least size bytes, asking the kernel to
// reserve the backing blocks up front so a subsequent WriteAt cannot
// fail midway with ENOSPC.
func preallocate(f cachefs.File, size int64) error {
	if err := f.Truncate(size); err != nil {
		return err
	}
	osf, ok := f.(*os.File)
	if !ok {
		return nil
	}
	err := unix.Fallocate(int(osf.Fd()), 0, 0, size)
	if err == unix.ENOSYS || err == unix.EOPNOTSUPP {
		return nil
	}
	return err
}
