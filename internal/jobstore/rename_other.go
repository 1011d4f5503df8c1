//go:build !linux

package jobstore

func renameNoReplace(oldpath, newpath string) error {
	return renameCheckFirst(oldpath, newpath)
}
